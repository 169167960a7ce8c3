package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/orders"
	"github.com/koshedu/surge-short-bot/internal/strategy"
)

// Recover rebuilds the tracked map from exchange state after a restart.
// Every non-zero position is re-adopted: its live brackets are matched
// by client-id prefix, its dynamic-TP state comes back from the
// checkpoint row, and missing bracket sides are placed fresh. Runs once
// before Start; a failed fetch aborts startup rather than risk trading
// blind next to unmanaged positions.
func (m *Monitor) Recover() error {
	rows, err := m.client.GetPositionRisk("")
	if err != nil {
		return fmt.Errorf("fetching positions for recovery: %w", err)
	}
	open, err := m.client.GetOpenAlgoOrders("")
	if err != nil {
		return fmt.Errorf("fetching algo orders for recovery: %w", err)
	}

	algosBySymbol := make(map[string][]binance.AlgoOrder)
	for _, ao := range open {
		algosBySymbol[ao.Symbol] = append(algosBySymbol[ao.Symbol], ao)
	}

	recovered := 0
	for _, row := range rows {
		if row.PositionAmt.Sign() == 0 || m.IsTracked(row.Symbol) {
			continue
		}
		m.recoverPosition(row, algosBySymbol[row.Symbol])
		recovered++
	}
	if recovered > 0 {
		m.log.Info().Int("count", recovered).Msg("positions recovered from exchange state")
	}

	m.cleanupOrphans()
	return nil
}

// recoverPosition synthesises a TrackedPosition for one exchange row.
// The entry order id stays unknown; the fill state is taken as the
// exchange reports it.
func (m *Monitor) recoverPosition(row binance.PositionRisk, algos []binance.AlgoOrder) {
	side, closeSide := binance.SideBuy, binance.SideSell
	if row.PositionAmt.Sign() < 0 {
		side, closeSide = binance.SideSell, binance.SideBuy
	}
	posSide := row.PositionSide
	if posSide == "" {
		posSide = binance.PositionBoth
	}
	fillTime := time.Now().UTC()
	if row.UpdateTime > 0 {
		fillTime = time.UnixMilli(row.UpdateTime).UTC()
	}

	pos := &TrackedPosition{
		Symbol:        row.Symbol,
		Side:          side,
		CloseSide:     closeSide,
		PositionSide:  posSide,
		Quantity:      row.PositionAmt.Abs(),
		Token:         orders.NewToken(),
		EntryFilled:   true,
		EntryPrice:    row.EntryPrice,
		EntryFillTime: fillTime,
		CurrentTPPct:  m.cfg.StrongTPPct,
		SLPct:         m.cfg.StopLossPct,
		Strength:      strategy.StrengthUnknown,
		CreatedAt:     fillTime,
	}

	for _, ao := range algos {
		switch {
		case pos.TPAlgoID == 0 && orders.IsTP(ao.ClientAlgoID):
			pos.TPAlgoID = ao.AlgoID
		case pos.SLAlgoID == 0 && orders.IsSL(ao.ClientAlgoID):
			pos.SLAlgoID = ao.AlgoID
		}
	}

	if st, err := m.store.GetPositionState(pos.Symbol); err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("checkpoint read failed during recovery")
	} else if st != nil {
		pos.CurrentTPPct = st.CurrentTPPct
		if st.Strength != "" {
			pos.Strength = strategy.Strength(st.Strength)
		}
		pos.Evaluated2h = st.Evaluated2h
		pos.Evaluated12h = st.Evaluated12h
	}

	if err := m.Track(pos); err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("recovered position not tracked")
		return
	}

	pos.mu.Lock()
	m.placeBracket(pos)
	tpID, slID := pos.TPAlgoID, pos.SLAlgoID
	pos.mu.Unlock()

	m.log.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(side)).
		Str("qty", pos.Quantity.String()).
		Str("entry_price", pos.EntryPrice.String()).
		Int64("tp_algo_id", tpID).
		Int64("sl_algo_id", slID).
		Float64("tp_pct", pos.CurrentTPPct).
		Msg("position recovered")
	m.notify.PositionRecovered(pos.Symbol, pos.Quantity, pos.EntryPrice)
}

// cleanupOrphans cancels conditional orders on symbols the monitor does
// not track and the exchange holds no position in. These are leftovers
// from a prior run or from a manual close that did not cascade to the
// bracket.
func (m *Monitor) cleanupOrphans() {
	open, err := m.client.GetOpenAlgoOrders("")
	if err != nil {
		m.log.Warn().Err(err).Msg("orphan sweep: algo orders fetch failed")
		return
	}
	if len(open) == 0 {
		return
	}

	rows, err := m.client.GetPositionRisk("")
	if err != nil {
		m.log.Warn().Err(err).Msg("orphan sweep: positions fetch failed")
		return
	}
	held := make(map[string]struct{})
	for _, row := range rows {
		if row.PositionAmt.Sign() != 0 {
			held[row.Symbol] = struct{}{}
		}
	}

	cancelled := 0
	touched := make(map[string]struct{})
	for _, ao := range open {
		if m.IsTracked(ao.Symbol) {
			continue
		}
		if _, ok := held[ao.Symbol]; ok {
			continue
		}
		if _, err := m.client.CancelAlgoOrder(ao.AlgoID); err != nil && !binance.IsOrderGone(err) {
			m.log.Warn().Err(err).Str("symbol", ao.Symbol).Int64("algo_id", ao.AlgoID).
				Msg("orphan algo order cancel failed")
			continue
		}
		m.log.Info().Str("symbol", ao.Symbol).Int64("algo_id", ao.AlgoID).
			Str("client_algo_id", ao.ClientAlgoID).Msg("orphan algo order cancelled")
		cancelled++
		touched[ao.Symbol] = struct{}{}
	}

	if cancelled > 0 {
		symbols := make([]string, 0, len(touched))
		for sym := range touched {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		m.notify.OrphansCancelled(cancelled, symbols)
	}
}
