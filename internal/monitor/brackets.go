package monitor

import (
	"fmt"

	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/database"
	"github.com/koshedu/surge-short-bot/internal/orders"
	"github.com/koshedu/surge-short-bot/internal/strategy"
)

// placeBracket stands up the TP and SL conditional orders for a filled
// position. Each side is independent: a side that is already live is
// skipped, a side at its failure cap is left down, anything else is
// attempted. TPSLPlaced flips only when both ids are live, so the poll
// loop keeps coming back here until the bracket is whole. Callers hold
// pos.mu.
func (m *Monitor) placeBracket(pos *TrackedPosition) {
	if !pos.EntryFilled || pos.Closed {
		return
	}

	rules, err := m.client.SymbolRulesCached(pos.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("symbol rules fetch failed, bracket deferred")
		return
	}
	qty := rules.RoundQuantity(pos.Quantity)

	if pos.TPAlgoID == 0 && !pos.TPTriggered && pos.TPFailCount < maxBracketFailures {
		trigger := rules.RoundPrice(pos.targetTPPrice())
		resp, err := m.client.PlaceAlgoOrder(binance.AlgoOrderParams{
			Symbol:       pos.Symbol,
			Side:         pos.CloseSide,
			PositionSide: pos.PositionSide,
			Type:         binance.OrderTypeTakeProfitMarket,
			Quantity:     qty,
			TriggerPrice: trigger,
			WorkingType:  binance.WorkingTypeContractPrice,
			ReduceOnly:   pos.PositionSide == binance.PositionBoth,
			PriceProtect: true,
			ClientAlgoID: orders.TPID(pos.Token),
		})
		if err != nil {
			m.bracketFailed(pos, true, err)
		} else {
			pos.TPAlgoID = resp.AlgoID
			pos.TPFailCount = 0
			m.log.Info().Str("symbol", pos.Symbol).Int64("algo_id", resp.AlgoID).
				Str("trigger", trigger.String()).Msg("take-profit placed")
		}
	}

	if pos.SLAlgoID == 0 && !pos.SLTriggered && pos.SLFailCount < maxBracketFailures {
		trigger := rules.RoundPrice(pos.targetSLPrice())
		resp, err := m.client.PlaceAlgoOrder(binance.AlgoOrderParams{
			Symbol:       pos.Symbol,
			Side:         pos.CloseSide,
			PositionSide: pos.PositionSide,
			Type:         binance.OrderTypeStopMarket,
			Quantity:     qty,
			TriggerPrice: trigger,
			WorkingType:  binance.WorkingTypeContractPrice,
			ReduceOnly:   pos.PositionSide == binance.PositionBoth,
			PriceProtect: true,
			ClientAlgoID: orders.SLID(pos.Token),
		})
		if err != nil {
			m.bracketFailed(pos, false, err)
		} else {
			pos.SLAlgoID = resp.AlgoID
			pos.SLFailCount = 0
			m.log.Info().Str("symbol", pos.Symbol).Int64("algo_id", resp.AlgoID).
				Str("trigger", trigger.String()).Msg("stop-loss placed")
		}
	}

	if pos.TPAlgoID != 0 && pos.SLAlgoID != 0 && !pos.TPSLPlaced {
		pos.TPSLPlaced = true
		m.log.Info().Str("symbol", pos.Symbol).
			Str("tp", pos.targetTPPrice().String()).
			Str("sl", pos.targetSLPrice().String()).
			Msg("bracket armed")
	}
}

// bracketsStalled reports that a missing side has exhausted its
// retries, so the poll loop should stop waiting on placement and keep
// evaluating the position. Callers hold pos.mu.
func (pos *TrackedPosition) bracketsStalled() bool {
	return (pos.TPAlgoID == 0 && pos.TPFailCount >= maxBracketFailures) ||
		(pos.SLAlgoID == 0 && pos.SLFailCount >= maxBracketFailures)
}

// bracketFailed counts a per-side placement failure and pages the
// operator exactly once when the side hits its cap. Callers hold
// pos.mu.
func (m *Monitor) bracketFailed(pos *TrackedPosition, isTP bool, err error) {
	side := "stop-loss"
	count := 0
	if isTP {
		side = "take-profit"
		pos.TPFailCount++
		count = pos.TPFailCount
	} else {
		pos.SLFailCount++
		count = pos.SLFailCount
	}
	m.log.Error().Err(err).Str("symbol", pos.Symbol).Str("bracket", side).
		Int("failures", count).Msg("bracket placement failed")

	if count == maxBracketFailures {
		m.notify.OperatorAlert(pos.Symbol, side+" placement failing",
			fmt.Sprintf("%d consecutive %s placement failures, last: %v. Position is running without this bracket.", count, side, err))
	}
}

// replaceTP swaps the live take-profit for one at newPct. The tracked
// percentage moves first so that an interruption between cancel and
// place leaves a null id pointing at the new target, which the
// reconciler repairs. If the new order cannot be placed the original
// strong percentage is restored so the position never runs without a
// take-profit longer than one attempt. Callers hold pos.mu.
func (m *Monitor) replaceTP(pos *TrackedPosition, newPct float64, newStrength strategy.Strength) {
	if pos.TPTriggered || pos.Closed {
		return
	}

	oldPct, oldStrength := pos.CurrentTPPct, pos.Strength
	pos.CurrentTPPct = newPct
	if newStrength != "" {
		pos.Strength = newStrength
	}

	if pos.TPAlgoID != 0 {
		if _, err := m.client.CancelAlgoOrder(pos.TPAlgoID); err != nil && !binance.IsOrderGone(err) {
			pos.CurrentTPPct, pos.Strength = oldPct, oldStrength
			m.log.Warn().Err(err).Str("symbol", pos.Symbol).Int64("algo_id", pos.TPAlgoID).
				Msg("take-profit cancel for adjustment failed, keeping current order")
			m.saveCheckpoint(pos)
			return
		}
		pos.TPAlgoID = 0
	}

	if m.placeTPAt(pos, pos.CurrentTPPct) {
		m.log.Info().Str("symbol", pos.Symbol).Float64("tp_pct", pos.CurrentTPPct).
			Str("strength", string(pos.Strength)).Msg("take-profit adjusted")
		m.saveCheckpoint(pos)
		m.notify.TPAdjusted(pos.Symbol, pos.CurrentTPPct, string(pos.Strength))
		return
	}

	// New target refused; fall back to the entry-time percentage.
	restorePct := m.cfg.StrongTPPct
	if m.placeTPAt(pos, restorePct) {
		pos.CurrentTPPct = restorePct
		m.log.Warn().Str("symbol", pos.Symbol).Float64("tp_pct", restorePct).
			Msg("adjusted take-profit refused, original restored")
		m.saveCheckpoint(pos)
		return
	}

	pos.TPFailCount++
	m.saveCheckpoint(pos)
	m.notify.OperatorAlert(pos.Symbol, "take-profit replacement failed",
		fmt.Sprintf("old TP cancelled but neither %.2f%% nor %.2f%% could be placed; position has no take-profit", newPct, restorePct))
}

// placeTPAt places a fresh take-profit at pct percent from entry under
// a new client id. Reports success; failure details are logged here.
// Callers hold pos.mu.
func (m *Monitor) placeTPAt(pos *TrackedPosition, pct float64) bool {
	rules, err := m.client.SymbolRulesCached(pos.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("symbol rules fetch failed")
		return false
	}
	trigger := rules.RoundPrice(TPPriceFrom(pos.Side, pos.EntryPrice, pct))
	resp, err := m.client.PlaceAlgoOrder(binance.AlgoOrderParams{
		Symbol:       pos.Symbol,
		Side:         pos.CloseSide,
		PositionSide: pos.PositionSide,
		Type:         binance.OrderTypeTakeProfitMarket,
		Quantity:     rules.RoundQuantity(pos.Quantity),
		TriggerPrice: trigger,
		WorkingType:  binance.WorkingTypeContractPrice,
		ReduceOnly:   pos.PositionSide == binance.PositionBoth,
		PriceProtect: true,
		ClientAlgoID: orders.TPID(orders.NewToken()),
	})
	if err != nil {
		m.log.Error().Err(err).Str("symbol", pos.Symbol).Float64("tp_pct", pct).
			Str("trigger", trigger.String()).Msg("take-profit placement failed")
		return false
	}
	pos.TPAlgoID = resp.AlgoID
	pos.TPFailCount = 0
	return true
}

// replaceSingleBracket re-places one missing bracket side under a fresh
// client id, used after manual cancels and interrupted replacements.
// Callers hold pos.mu.
func (m *Monitor) replaceSingleBracket(pos *TrackedPosition, isTP bool) {
	if pos.Closed {
		return
	}
	if isTP && (pos.TPTriggered || pos.TPFailCount >= maxBracketFailures) {
		return
	}
	if !isTP && (pos.SLTriggered || pos.SLFailCount >= maxBracketFailures) {
		return
	}

	rules, err := m.client.SymbolRulesCached(pos.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("symbol rules fetch failed")
		return
	}

	orderType := binance.OrderTypeStopMarket
	clientID := orders.SLID(orders.NewToken())
	trigger := rules.RoundPrice(pos.targetSLPrice())
	if isTP {
		orderType = binance.OrderTypeTakeProfitMarket
		clientID = orders.TPID(orders.NewToken())
		trigger = rules.RoundPrice(pos.targetTPPrice())
	}

	resp, err := m.client.PlaceAlgoOrder(binance.AlgoOrderParams{
		Symbol:       pos.Symbol,
		Side:         pos.CloseSide,
		PositionSide: pos.PositionSide,
		Type:         orderType,
		Quantity:     rules.RoundQuantity(pos.Quantity),
		TriggerPrice: trigger,
		WorkingType:  binance.WorkingTypeContractPrice,
		ReduceOnly:   pos.PositionSide == binance.PositionBoth,
		PriceProtect: true,
		ClientAlgoID: clientID,
	})
	if err != nil {
		m.bracketFailed(pos, isTP, err)
		return
	}
	if isTP {
		pos.TPAlgoID = resp.AlgoID
		pos.TPFailCount = 0
	} else {
		pos.SLAlgoID = resp.AlgoID
		pos.SLFailCount = 0
	}
	m.log.Info().Str("symbol", pos.Symbol).Bool("is_tp", isTP).Int64("algo_id", resp.AlgoID).
		Str("trigger", trigger.String()).Msg("bracket re-placed")
}

// forceClose flattens the position with a reduce-only market order and
// then tears the bracket down. A failed close leaves all state intact
// so the next tick retries. Callers hold pos.mu.
func (m *Monitor) forceClose(pos *TrackedPosition, reason string) {
	if pos.Closed {
		return
	}

	order, err := m.client.PlaceMarketClose(pos.Symbol, pos.CloseSide, pos.PositionSide, pos.Quantity, "")
	if err != nil {
		m.log.Error().Err(err).Str("symbol", pos.Symbol).Str("reason", reason).
			Msg("market close failed, will retry next cycle")
		return
	}
	pos.Closed = true

	for _, algoID := range []int64{pos.TPAlgoID, pos.SLAlgoID} {
		if algoID == 0 {
			continue
		}
		if _, err := m.client.CancelAlgoOrder(algoID); err != nil && !binance.IsOrderGone(err) {
			m.log.Warn().Err(err).Str("symbol", pos.Symbol).Int64("algo_id", algoID).
				Msg("bracket cancel after force close failed")
		}
	}
	pos.TPAlgoID, pos.SLAlgoID = 0, 0

	exitPrice := order.FillPrice()
	if exitPrice.Sign() <= 0 {
		if ticker, err := m.client.GetTickerPrice(pos.Symbol); err == nil {
			exitPrice = ticker.Price
		}
	}

	event := database.EventStrategyClose
	if reason == strategy.ReasonMaxHold {
		event = database.EventTimeout
	}
	pnl := realizedEstimate(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	m.closeout(pos, event, exitPrice, pnl, orderRef(order.OrderID))
	m.log.Info().Str("symbol", pos.Symbol).Str("reason", reason).Str("pnl", pnl.String()).
		Msg("position force closed")
}

// saveCheckpoint upserts the recovery row for a position's dynamic-TP
// state. Callers hold pos.mu.
func (m *Monitor) saveCheckpoint(pos *TrackedPosition) {
	st := &database.PositionState{
		Symbol:       pos.Symbol,
		CurrentTPPct: pos.CurrentTPPct,
		Strength:     string(pos.Strength),
		Evaluated2h:  pos.Evaluated2h,
		Evaluated12h: pos.Evaluated12h,
	}
	if err := m.store.SavePositionState(st); err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("checkpoint persist failed")
	}
}
