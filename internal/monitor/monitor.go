// Package monitor owns the tracked-positions map and drives every
// position from entry order to close. A polling loop reconciles the map
// against the exchange for correctness; the user-data stream feeds the
// same transitions for latency. Neither channel is authoritative alone.
package monitor

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/database"
	"github.com/koshedu/surge-short-bot/internal/notification"
	"github.com/koshedu/surge-short-bot/internal/strategy"
)

// orphanCleanupEvery runs the orphan sweep on cycle 1 and every Nth
// cycle after, so a restart cleans leftovers within one poll interval.
const orphanCleanupEvery = 10

// maxBracketFailures is the consecutive-failure cap per bracket side;
// past it the side stays down until an operator intervenes.
const maxBracketFailures = 10

var (
	ErrAlreadyTracked = errors.New("symbol already tracked")
	ErrNotTracked     = errors.New("symbol not tracked")
)

// Store is the slice of persistence the monitor writes through.
// *database.Store satisfies it; tests substitute fakes.
type Store interface {
	RecordTrade(*database.LiveTrade) error
	SavePositionState(*database.PositionState) error
	GetPositionState(symbol string) (*database.PositionState, error)
	DeletePositionState(symbol string) error
}

// Monitor reconciles tracked positions against the exchange. All map
// mutation happens here; the entry pipeline only registers new entries
// through Track and the stream handlers advance single positions.
type Monitor struct {
	client binance.Exchange
	cfg    *config.Config
	store  Store
	notify *notification.Manager
	strat  strategy.Strategy // nil enables the legacy max-hold fallback
	log    zerolog.Logger

	onStopLoss func(symbol string) // scanner cooldown callback

	mu        sync.Mutex
	positions map[string]*TrackedPosition

	stopChan chan struct{}
	wg       sync.WaitGroup
	cycle    int
}

// New builds a monitor. strat may be nil, which arms the built-in
// max-hold close instead of a strategy-driven policy.
func New(cfg *config.Config, client binance.Exchange, store Store, notify *notification.Manager, strat strategy.Strategy, logger zerolog.Logger) *Monitor {
	return &Monitor{
		client:    client,
		cfg:       cfg,
		store:     store,
		notify:    notify,
		strat:     strat,
		log:       logger.With().Str("component", "monitor").Logger(),
		positions: make(map[string]*TrackedPosition),
		stopChan:  make(chan struct{}),
	}
}

// SetStopLossCallback wires the scanner's same-day cooldown. Called
// once during startup, before Start.
func (m *Monitor) SetStopLossCallback(cb func(symbol string)) {
	m.onStopLoss = cb
}

// Track registers a position created by the entry pipeline. At most one
// position may exist per symbol.
func (m *Monitor) Track(pos *TrackedPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[pos.Symbol]; exists {
		return ErrAlreadyTracked
	}
	if pos.CreatedAt.IsZero() {
		pos.CreatedAt = time.Now().UTC()
	}
	m.positions[pos.Symbol] = pos
	m.log.Info().
		Str("symbol", pos.Symbol).
		Int64("entry_order_id", pos.EntryOrderID).
		Str("side", string(pos.Side)).
		Str("qty", pos.Quantity.String()).
		Msg("position tracked")
	return nil
}

// IsTracked reports whether the symbol has a live tracked position.
func (m *Monitor) IsTracked(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}

// TrackedCount is the number of live tracked positions.
func (m *Monitor) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// TrackedSymbols lists the symbols currently tracked.
func (m *Monitor) TrackedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		out = append(out, sym)
	}
	return out
}

// get returns the tracked position for a symbol, or nil.
func (m *Monitor) get(symbol string) *TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[symbol]
}

// snapshot copies the current position set for lock-free iteration.
func (m *Monitor) snapshot() []*TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TrackedPosition, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

// Start launches the poll loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	m.log.Info().Dur("interval", m.cfg.MonitorInterval()).Msg("position monitor started")
}

// Stop terminates the poll loop and waits for the in-flight cycle.
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	m.log.Info().Msg("position monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("monitor loop panicked, restarting")
			time.Sleep(5 * time.Second)
			select {
			case <-m.stopChan:
				return
			default:
			}
			m.wg.Add(1)
			go m.run()
		}
	}()

	ticker := time.NewTicker(m.cfg.MonitorInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.pollCycle()
		}
	}
}

// pollCycle is one pass over every tracked position plus the periodic
// orphan sweep.
func (m *Monitor) pollCycle() {
	m.cycle++

	for _, pos := range m.snapshot() {
		select {
		case <-m.stopChan:
			return
		default:
		}
		m.checkPosition(pos)
	}
	m.removeClosed()

	if m.cycle%orphanCleanupEvery == 1 {
		m.cleanupOrphans()
	}
}

// removeClosed drops positions whose closed flag is set from the map.
func (m *Monitor) removeClosed() {
	for _, pos := range m.snapshot() {
		pos.mu.Lock()
		closed := pos.Closed
		pos.mu.Unlock()
		if !closed {
			continue
		}
		m.mu.Lock()
		delete(m.positions, pos.Symbol)
		m.mu.Unlock()
		m.log.Info().Str("symbol", pos.Symbol).Msg("closed position untracked")
	}
}

// checkPosition advances one position's state machine by one tick:
// entry fill first, then bracket placement, then the strategy verdict,
// then drift reconciliation against the exchange's open algo orders.
func (m *Monitor) checkPosition(pos *TrackedPosition) {
	pos.mu.Lock()
	defer pos.mu.Unlock()

	if pos.Closed {
		return
	}

	// Phase 1: entry order lifecycle.
	if !pos.EntryFilled {
		m.checkEntryFill(pos)
		return
	}

	// Phase 2: deferred bracket placement, retried until both sides
	// stand. A side at its failure cap stops blocking the later phases
	// so the strategy can still close the position.
	if !pos.TPSLPlaced {
		m.placeBracket(pos)
		if !pos.TPSLPlaced && !pos.bracketsStalled() {
			return
		}
	}

	// Phase 3: strategy verdict.
	if m.strat != nil {
		act := m.strat.EvaluatePosition(m.client, pos.view(), time.Now().UTC())
		if act.Evaluated2h {
			pos.Evaluated2h = true
		}
		if act.Evaluated12h {
			pos.Evaluated12h = true
		}
		if act.NewStrength != "" && act.Action != strategy.ActionAdjustTP {
			pos.Strength = act.NewStrength
		}
		switch act.Action {
		case strategy.ActionClose:
			m.forceClose(pos, act.Reason)
			return
		case strategy.ActionAdjustTP:
			m.replaceTP(pos, act.NewTPPct, act.NewStrength)
			return
		}
	}

	// Phase 4: drift reconciliation and missing-bracket repair.
	m.reconcileBrackets(pos)
	if pos.Closed {
		return
	}

	// Phase 5: legacy horizon, live only without an injected strategy.
	if m.strat == nil && m.cfg.MaxHoldHrs > 0 && time.Since(pos.CreatedAt) >= m.cfg.MaxHold() {
		m.forceClose(pos, strategy.ReasonMaxHold)
	}
}

// checkEntryFill queries the resting entry order and either promotes
// the position to filled or discards it when the exchange rejected the
// order. Callers hold pos.mu.
func (m *Monitor) checkEntryFill(pos *TrackedPosition) {
	order, err := m.client.QueryOrder(pos.Symbol, pos.EntryOrderID)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Int64("order_id", pos.EntryOrderID).
			Msg("entry order query failed")
		return
	}

	switch order.Status {
	case binance.OrderStatusFilled:
		m.entryFilled(pos, order.FillPrice())
	case binance.OrderStatusCanceled, binance.OrderStatusExpired, binance.OrderStatusRejected:
		pos.Closed = true
		m.log.Info().Str("symbol", pos.Symbol).Str("status", string(order.Status)).
			Msg("entry order gone before fill, discarding")
	}
}

// entryFilled promotes a position to filled and arms the bracket. Both
// the poll path and the stream path land here; the EntryFilled guard
// keeps the second arrival a no-op. Callers hold pos.mu.
func (m *Monitor) entryFilled(pos *TrackedPosition, fillPrice decimal.Decimal) {
	if pos.EntryFilled {
		return
	}
	pos.EntryFilled = true
	if fillPrice.Sign() > 0 {
		pos.EntryPrice = fillPrice
	}
	pos.EntryFillTime = time.Now().UTC()

	m.log.Info().
		Str("symbol", pos.Symbol).
		Str("entry_price", pos.EntryPrice.String()).
		Str("qty", pos.Quantity.String()).
		Msg("entry filled")

	m.recordTrade(&database.LiveTrade{
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		Event:      database.EventEntry,
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Quantity,
		OrderRef:   orderRef(pos.EntryOrderID),
	})
	m.notify.EntryFilled(pos.Symbol, pos.Quantity, pos.EntryPrice)

	m.placeBracket(pos)
}

// reconcileBrackets compares the armed algo ids against the exchange's
// open set. A vanished id means either a trigger (position flat) or a
// manual cancel (position still open); a null id means a previous
// replace was interrupted. Callers hold pos.mu.
func (m *Monitor) reconcileBrackets(pos *TrackedPosition) {
	open, err := m.client.GetOpenAlgoOrders(pos.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("open algo orders fetch failed")
		return
	}
	openIDs := make(map[int64]struct{}, len(open))
	for _, o := range open {
		openIDs[o.AlgoID] = struct{}{}
	}

	if pos.TPAlgoID != 0 && !pos.TPTriggered {
		if _, live := openIDs[pos.TPAlgoID]; !live {
			m.bracketVanished(pos, true)
			if pos.Closed {
				return
			}
		}
	}
	if pos.SLAlgoID != 0 && !pos.SLTriggered {
		if _, live := openIDs[pos.SLAlgoID]; !live {
			m.bracketVanished(pos, false)
			if pos.Closed {
				return
			}
		}
	}

	// A null id with tp_sl_placed set means a replace was cut short;
	// stand the side back up.
	if pos.TPSLPlaced && pos.TPAlgoID == 0 && !pos.TPTriggered {
		m.replaceSingleBracket(pos, true)
	}
	if pos.TPSLPlaced && pos.SLAlgoID == 0 && !pos.SLTriggered {
		m.replaceSingleBracket(pos, false)
	}
}

// bracketVanished resolves a missing algo order: flat position means
// the trigger really fired, an open position means somebody cancelled
// the order by hand and it must be re-placed. Callers hold pos.mu.
func (m *Monitor) bracketVanished(pos *TrackedPosition, isTP bool) {
	flat, err := m.positionFlat(pos.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("position query failed during reconciliation")
		return
	}

	if flat {
		if isTP {
			m.tpTriggered(pos, pos.targetTPPrice(), decimal.Decimal{})
		} else {
			m.slTriggered(pos, pos.targetSLPrice(), decimal.Decimal{})
		}
		return
	}

	side := "SL"
	if isTP {
		side = "TP"
	}
	m.log.Warn().Str("symbol", pos.Symbol).Str("bracket", side).
		Msg("algo order vanished with position still open, re-placing")
	if isTP {
		pos.TPAlgoID = 0
	} else {
		pos.SLAlgoID = 0
	}
	m.replaceSingleBracket(pos, isTP)
}

// positionFlat reports whether the exchange carries no net position for
// the symbol.
func (m *Monitor) positionFlat(symbol string) (bool, error) {
	rows, err := m.client.GetPositionRisk(symbol)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.Symbol == symbol && row.PositionAmt.Sign() != 0 {
			return false, nil
		}
	}
	return true, nil
}

// tpTriggered finalises a take-profit close: flag it, drop the SL and
// retire the position. exactPnl is the stream-reported figure when
// available, otherwise zero and an estimate is recorded. Callers hold
// pos.mu.
func (m *Monitor) tpTriggered(pos *TrackedPosition, exitPrice, exactPnl decimal.Decimal) {
	if pos.TPTriggered {
		return
	}
	pos.TPTriggered = true
	pos.Closed = true
	ref := orderRef(pos.TPAlgoID)

	if pos.SLAlgoID != 0 {
		if _, err := m.client.CancelAlgoOrder(pos.SLAlgoID); err != nil && !binance.IsOrderGone(err) {
			m.log.Warn().Err(err).Str("symbol", pos.Symbol).Int64("algo_id", pos.SLAlgoID).
				Msg("stop-loss cancel after take-profit failed")
		}
		pos.SLAlgoID = 0
	}

	pnl := exactPnl
	if pnl.Sign() == 0 {
		pnl = realizedEstimate(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	}
	m.closeout(pos, database.EventTP, exitPrice, pnl, ref)
	m.log.Info().Str("symbol", pos.Symbol).Str("pnl", pnl.String()).Msg("take-profit triggered")
}

// slTriggered finalises a stop-loss close and arms the scanner's
// same-day cooldown. Callers hold pos.mu.
func (m *Monitor) slTriggered(pos *TrackedPosition, exitPrice, exactPnl decimal.Decimal) {
	if pos.SLTriggered {
		return
	}
	pos.SLTriggered = true
	pos.Closed = true
	ref := orderRef(pos.SLAlgoID)

	if pos.TPAlgoID != 0 {
		if _, err := m.client.CancelAlgoOrder(pos.TPAlgoID); err != nil && !binance.IsOrderGone(err) {
			m.log.Warn().Err(err).Str("symbol", pos.Symbol).Int64("algo_id", pos.TPAlgoID).
				Msg("take-profit cancel after stop-loss failed")
		}
		pos.TPAlgoID = 0
	}

	pnl := exactPnl
	if pnl.Sign() == 0 {
		pnl = realizedEstimate(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	}
	m.closeout(pos, database.EventSL, exitPrice, pnl, ref)
	m.log.Warn().Str("symbol", pos.Symbol).Str("pnl", pnl.String()).Msg("stop-loss triggered")

	if m.onStopLoss != nil {
		m.onStopLoss(pos.Symbol)
	}
}

// closeout records the closing trade event, clears the checkpoint row
// and pages the chat channel. Callers hold pos.mu.
func (m *Monitor) closeout(pos *TrackedPosition, event string, exitPrice, pnl decimal.Decimal, ref string) {
	m.recordTrade(&database.LiveTrade{
		Symbol:      pos.Symbol,
		Side:        string(pos.Side),
		Event:       event,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		RealizedPnl: pnl,
		OrderRef:    ref,
	})
	if err := m.store.DeletePositionState(pos.Symbol); err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("checkpoint delete failed")
	}
	m.notify.PositionClosed(pos.Symbol, event, pnl)
}

// recordTrade appends a lifecycle event; persistence failures are
// logged, never fatal to the trading path.
func (m *Monitor) recordTrade(tr *database.LiveTrade) {
	if err := m.store.RecordTrade(tr); err != nil {
		m.log.Error().Err(err).Str("symbol", tr.Symbol).Str("event", tr.Event).
			Msg("trade event persist failed")
	}
}

func orderRef(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
