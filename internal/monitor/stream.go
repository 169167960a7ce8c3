package monitor

import (
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/orders"
)

// HandleOrderUpdate is the ORDER_TRADE_UPDATE fast path. It drives the
// same transitions as the poll loop, and the flag guards inside make a
// second arrival from either path a no-op. Triggered algo orders come
// back as plain fills, so classification runs on the original order
// type and the client-id prefix, never the exchange order id.
func (m *Monitor) HandleOrderUpdate(u *binance.OrderTradeUpdate) {
	pos := m.get(u.Symbol)
	if pos == nil {
		return
	}

	pos.mu.Lock()
	defer pos.mu.Unlock()

	if pos.EntryOrderID != 0 && u.OrderID == pos.EntryOrderID {
		switch {
		case u.Status == binance.OrderStatusFilled && !pos.Closed:
			m.entryFilled(pos, u.AvgPrice)
		case u.ExecutionType == "CANCELED" || u.ExecutionType == "EXPIRED":
			// Leave the close to the poll loop's requery; a stream
			// EXPIRED can precede a partial-fill settlement.
			m.log.Info().Str("symbol", u.Symbol).Str("exec_type", u.ExecutionType).
				Msg("entry order ended on stream, poll will requery")
		}
		return
	}

	if u.Status != binance.OrderStatusFilled {
		return
	}

	switch {
	case u.OrigOrderType == binance.OrderTypeTakeProfitMarket ||
		u.OrigOrderType == binance.OrderTypeTakeProfit ||
		orders.IsTP(u.ClientOrderID):
		m.tpTriggered(pos, u.AvgPrice, u.RealizedPnl)
	case u.OrigOrderType == binance.OrderTypeStopMarket ||
		u.OrigOrderType == binance.OrderTypeStop ||
		orders.IsSL(u.ClientOrderID):
		m.slTriggered(pos, u.AvgPrice, u.RealizedPnl)
	}
}

// HandleAccountUpdate is the ACCOUNT_UPDATE redundancy layer: a flat
// row for a filled tracked position closes it, a non-flat row refreshes
// the entry price. The order event above stays the authoritative close
// signal and carries the PnL; this path only stops the monitor from
// managing a position that no longer exists.
func (m *Monitor) HandleAccountUpdate(positions []binance.AccountPositionUpdate) {
	for i := range positions {
		row := &positions[i]
		pos := m.get(row.Symbol)
		if pos == nil {
			continue
		}

		pos.mu.Lock()
		if pos.Closed || !sameLeg(pos.PositionSide, row.PositionSide) {
			pos.mu.Unlock()
			continue
		}

		if row.PositionAmt.Sign() == 0 {
			if pos.EntryFilled {
				pos.Closed = true
				for _, algoID := range []int64{pos.TPAlgoID, pos.SLAlgoID} {
					if algoID == 0 {
						continue
					}
					if _, err := m.client.CancelAlgoOrder(algoID); err != nil && !binance.IsOrderGone(err) {
						m.log.Warn().Err(err).Str("symbol", pos.Symbol).Int64("algo_id", algoID).
							Msg("bracket cancel after stream-reported flat failed")
					}
				}
				pos.TPAlgoID, pos.SLAlgoID = 0, 0
				if err := m.store.DeletePositionState(pos.Symbol); err != nil {
					m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("checkpoint delete failed")
				}
				m.log.Info().Str("symbol", pos.Symbol).
					Msg("account stream reports flat, position closed")
			}
		} else if row.EntryPrice.Sign() > 0 && !row.EntryPrice.Equal(pos.EntryPrice) {
			pos.EntryPrice = row.EntryPrice
			m.log.Debug().Str("symbol", pos.Symbol).Str("entry_price", row.EntryPrice.String()).
				Msg("entry price refreshed from account stream")
		}
		pos.mu.Unlock()
	}
}

// sameLeg reports whether an account-update row belongs to the tracked
// position's hedge leg. One-way accounts report BOTH on both sides.
func sameLeg(tracked, reported binance.PositionSide) bool {
	if tracked == "" || reported == "" {
		return true
	}
	return tracked == reported
}
