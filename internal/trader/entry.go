package trader

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/database"
	"github.com/koshedu/surge-short-bot/internal/monitor"
	"github.com/koshedu/surge-short-bot/internal/orders"
	"github.com/koshedu/surge-short-bot/internal/scanner"
	"github.com/koshedu/surge-short-bot/internal/strategy"
)

// interOrderSpacing is the pause after a successful entry so the
// exchange reflects the new position before the next guard check.
var interOrderSpacing = 2 * time.Second

// minEntryMarginUSDT floors percent-mode sizing.
var minEntryMarginUSDT = decimal.NewFromInt(1)

// runEntryWorker consumes the scanner channel. All entries go through
// this one goroutine so each order's effect is visible to the next
// signal's guard checks.
func (t *Trader) runEntryWorker() {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("entry worker panicked, restarting")
			time.Sleep(5 * time.Second)
			select {
			case <-t.stopChan:
				return
			default:
			}
			t.wg.Add(1)
			go t.runEntryWorker()
		}
	}()

	for {
		select {
		case <-t.stopChan:
			return
		case sig := <-t.signals:
			t.processBatch(t.collectBatch(sig))
		}
	}
}

// collectBatch drains whatever is already queued behind the first
// signal, waits out the batch delay so concurrent detections can
// accumulate, drains again and orders the result strongest surge
// first.
func (t *Trader) collectBatch(first scanner.Signal) []scanner.Signal {
	batch := drainSignals([]scanner.Signal{first}, t.signals)

	select {
	case <-t.stopChan:
	case <-time.After(t.cfg.EntryBatchDelay()):
		batch = drainSignals(batch, t.signals)
	}

	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Ratio > batch[j].Ratio })
	return batch
}

func drainSignals(batch []scanner.Signal, ch <-chan scanner.Signal) []scanner.Signal {
	for {
		select {
		case sig := <-ch:
			batch = append(batch, sig)
		default:
			return batch
		}
	}
}

// processBatch walks the batch serially. Symbols entered here join the
// pending set so later signals see them before the exchange does.
func (t *Trader) processBatch(batch []scanner.Signal) {
	if len(batch) > 1 {
		t.log.Info().Int("signals", len(batch)).Msg("processing signal batch")
	}

	pending := make(map[string]struct{}, len(batch))
	for _, sig := range batch {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if !t.tryEnter(sig, pending) {
			continue
		}
		pending[sig.Symbol] = struct{}{}

		select {
		case <-t.stopChan:
			return
		case <-time.After(interOrderSpacing):
		}
	}
}

// tryEnter runs the guard sequence for one signal and, when everything
// passes, places the entry order and registers it with the monitor.
// Every outcome is recorded as a signal event. Returns true when an
// order went out.
func (t *Trader) tryEnter(sig scanner.Signal, pending map[string]struct{}) bool {
	log := t.log.With().Str("symbol", sig.Symbol).Logger()

	if !t.cfg.AutoTrade {
		t.reject(sig, "auto_trade_disabled", nil)
		return false
	}

	// The union of live exchange positions, entries placed earlier in
	// this batch and the monitor's tracked set. A symbol in the union
	// is occupied; the union size counts against max_positions.
	open, err := t.openSymbols(pending)
	if err != nil {
		log.Warn().Err(err).Msg("position fetch failed, skipping signal")
		t.reject(sig, "position fetch failed", nil)
		return false
	}
	if _, dup := open[sig.Symbol]; dup {
		t.reject(sig, "position already open", nil)
		return false
	}
	if len(open) >= t.cfg.MaxPositions {
		t.reject(sig, "max positions reached", nil)
		return false
	}

	tick, err := t.client.GetTickerPrice(sig.Symbol)
	if err != nil {
		log.Warn().Err(err).Msg("ticker price fetch failed, skipping signal")
		t.reject(sig, "ticker price unavailable", nil)
		return false
	}
	refPrice := tick.Price
	if refPrice.Sign() <= 0 {
		t.reject(sig, "ticker price unavailable", nil)
		return false
	}

	// Strategy risk filters; data failures inside fail open.
	dec := t.strat.FilterEntry(t.client, sig, refPrice, time.Now().UTC())
	if !dec.Accept {
		t.reject(sig, dec.Reason, dec.Metrics)
		return false
	}

	if t.cfg.DailyLossLimitUSDT > 0 {
		pnl, err := t.realizedPnlToday()
		if err != nil {
			// Cannot verify the loss gate, so do not trade past it.
			log.Warn().Err(err).Msg("daily pnl fetch failed, skipping signal")
			t.reject(sig, "daily pnl unavailable", dec.Metrics)
			return false
		}
		if pnl.LessThanOrEqual(decimal.NewFromFloat(-t.cfg.DailyLossLimitUSDT)) {
			t.reject(sig, "daily loss limit", dec.Metrics)
			t.notify.OperatorAlert(sig.Symbol, "Daily loss limit reached",
				fmt.Sprintf("realised %s USDT today against a %.2f USDT limit, entries paused", pnl.StringFixed(2), t.cfg.DailyLossLimitUSDT))
			return false
		}
	}

	if !t.entryAllowance() {
		t.reject(sig, "max entries per day", dec.Metrics)
		return false
	}

	rules, err := t.client.SymbolRulesCached(sig.Symbol)
	if err != nil {
		log.Warn().Err(err).Msg("symbol rules fetch failed, skipping signal")
		t.reject(sig, "symbol rules unavailable", dec.Metrics)
		return false
	}
	margin, err := t.entryMargin()
	if err != nil {
		log.Warn().Err(err).Msg("balance fetch failed, skipping signal")
		t.reject(sig, "balance unavailable", dec.Metrics)
		return false
	}
	qty := rules.RoundQuantity(margin.Mul(decimal.NewFromInt(int64(t.cfg.Leverage))).Div(refPrice))
	if qty.Sign() <= 0 {
		t.reject(sig, "quantity rounds to zero", dec.Metrics)
		return false
	}

	// Leverage and margin type before the order; "already set" style
	// responses are benign.
	if _, err := t.client.SetLeverage(sig.Symbol, t.cfg.Leverage); err != nil {
		log.Warn().Err(err).Int("leverage", t.cfg.Leverage).Msg("set leverage failed, continuing")
	}
	if err := t.client.SetMarginType(sig.Symbol, binance.MarginType(t.cfg.MarginType)); err != nil {
		log.Warn().Err(err).Str("margin_type", t.cfg.MarginType).Msg("set margin type failed, continuing")
	}

	token := orders.NewToken()
	posSide := t.positionSide(dec.Side)
	price := rules.RoundPrice(refPrice)
	order, err := t.client.PlaceOrder(binance.OrderParams{
		Symbol:        sig.Symbol,
		Side:          dec.Side,
		PositionSide:  posSide,
		Type:          binance.OrderTypeLimit,
		Quantity:      qty,
		Price:         price,
		TimeInForce:   binance.TimeInForceGTC,
		ClientOrderID: orders.EntryID(token),
	})
	if err != nil {
		log.Error().Err(err).Msg("entry order rejected")
		t.reject(sig, "entry order rejected: "+err.Error(), dec.Metrics)
		return false
	}

	pos := &monitor.TrackedPosition{
		Symbol:       sig.Symbol,
		EntryOrderID: order.OrderID,
		Side:         dec.Side,
		Quantity:     qty,
		Token:        token,
		CloseSide:    closeSide(dec.Side),
		PositionSide: posSide,
		TPPrice:      monitor.TPPriceFrom(dec.Side, refPrice, dec.TPPct),
		SLPrice:      monitor.SLPriceFrom(dec.Side, refPrice, dec.SLPct),
		SLPct:        dec.SLPct,
		CurrentTPPct: dec.TPPct,
		Strength:     strategy.StrengthUnknown,
		SignalTime:   sig.SignalTime,
		SignalRatio:  sig.Ratio,
	}
	if err := t.monitor.Track(pos); err != nil {
		// Track only fails on a duplicate symbol and the union check
		// rules that out; a live order nobody manages needs eyes on it.
		log.Error().Err(err).Int64("order_id", order.OrderID).Msg("tracking placed entry failed")
		t.notify.OperatorAlert(sig.Symbol, "Untracked entry order",
			fmt.Sprintf("entry order %d placed but not tracked: %v", order.OrderID, err))
	}

	t.countEntry()
	t.recordSignal(sig, true, "", dec.Metrics)
	t.notify.EntryPlaced(sig.Symbol, qty, price, sig.Ratio)
	log.Info().
		Int64("order_id", order.OrderID).
		Str("qty", qty.String()).
		Str("price", price.String()).
		Float64("ratio", sig.Ratio).
		Str("tp", pos.TPPrice.String()).
		Str("sl", pos.SLPrice.String()).
		Msg("entry order placed")
	return true
}

// openSymbols returns the occupied-symbol union for the dup/cap guard.
func (t *Trader) openSymbols(pending map[string]struct{}) (map[string]struct{}, error) {
	rows, err := t.client.GetPositionRisk("")
	if err != nil {
		return nil, err
	}
	open := make(map[string]struct{}, len(rows)+len(pending))
	for _, row := range rows {
		if row.PositionAmt.Sign() != 0 {
			open[row.Symbol] = struct{}{}
		}
	}
	for sym := range pending {
		open[sym] = struct{}{}
	}
	for _, sym := range t.monitor.TrackedSymbols() {
		open[sym] = struct{}{}
	}
	return open, nil
}

// entryMargin resolves the per-entry margin for the configured sizing
// mode. Percent mode floors at 1 USDT so dust balances still produce
// an order the exchange will price-check rather than a zero quantity.
func (t *Trader) entryMargin() (decimal.Decimal, error) {
	if t.cfg.MarginMode == "percent" {
		free, err := t.client.FreeUSDT()
		if err != nil {
			return decimal.Decimal{}, err
		}
		margin := free.Mul(decimal.NewFromFloat(t.cfg.MarginPct / 100))
		if margin.LessThan(minEntryMarginUSDT) {
			margin = minEntryMarginUSDT
		}
		return margin, nil
	}
	return decimal.NewFromFloat(t.cfg.LiveFixedMarginUSDT), nil
}

// realizedPnlToday sums REALIZED_PNL income rows since UTC midnight.
func (t *Trader) realizedPnlToday() (decimal.Decimal, error) {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	recs, err := t.client.GetIncomeHistory(binance.IncomeRealizedPnl, start.UnixMilli(), 0, 1000)
	if err != nil {
		return decimal.Decimal{}, err
	}
	sum := decimal.Zero
	for _, rec := range recs {
		sum = sum.Add(rec.Income)
	}
	return sum, nil
}

// entryAllowance enforces max_entries_per_day when configured. The
// counter lives in memory and resets at UTC midnight; a restart starts
// a fresh count.
func (t *Trader) entryAllowance() bool {
	if t.cfg.MaxEntriesPerDay <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked(time.Now().UTC())
	return t.entriesToday < t.cfg.MaxEntriesPerDay
}

func (t *Trader) countEntry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked(time.Now().UTC())
	t.entriesToday++
}

func (t *Trader) rollDayLocked(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if day.After(t.dayStart) {
		t.dayStart = day
		t.entriesToday = 0
	}
}

// positionSide maps an order side onto the account's position mode:
// hedge accounts address the SHORT or LONG leg, one-way accounts BOTH.
func (t *Trader) positionSide(side binance.OrderSide) binance.PositionSide {
	if !t.hedgeMode {
		return binance.PositionBoth
	}
	if side == binance.SideSell {
		return binance.PositionShort
	}
	return binance.PositionLong
}

func closeSide(entry binance.OrderSide) binance.OrderSide {
	if entry == binance.SideSell {
		return binance.SideBuy
	}
	return binance.SideSell
}

// reject records a skipped signal with its reason.
func (t *Trader) reject(sig scanner.Signal, reason string, metrics map[string]float64) {
	t.log.Info().
		Str("symbol", sig.Symbol).
		Float64("ratio", sig.Ratio).
		Str("reason", reason).
		Msg("signal rejected")
	t.recordSignal(sig, false, reason, metrics)
}

// recordSignal appends the accept/reject outcome to the signal log.
// Persistence failures never block the trading path.
func (t *Trader) recordSignal(sig scanner.Signal, accepted bool, reason string, metrics map[string]float64) {
	ev := &database.SignalEvent{
		Symbol:        sig.Symbol,
		SignalTime:    sig.SignalTime,
		Ratio:         sig.Ratio,
		RefPrice:      sig.Price,
		AvgHourlySell: sig.AvgHourlySell,
		HourlySell:    sig.HourlySell,
		Accepted:      accepted,
		Reason:        reason,
		Metrics:       metricsJSON(metrics),
	}
	if err := t.store.RecordSignalEvent(ev); err != nil {
		t.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("signal event persist failed")
	}
}

func metricsJSON(m map[string]float64) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
