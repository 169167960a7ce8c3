package monitor

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/strategy"
)

// TrackedPosition is the per-symbol state machine record. The entry
// pipeline constructs it when an entry order goes out; after Track the
// monitor owns every mutation. The poll loop and the stream handlers
// serialise on mu, so a symbol is only ever advanced by one task at a
// time; the triggered/closed flags keep duplicate events harmless.
type TrackedPosition struct {
	mu sync.Mutex

	Symbol       string
	EntryOrderID int64
	Side         binance.OrderSide // entry side; SELL for shorts
	Quantity     decimal.Decimal
	Token        string // 8-hex segment shared by this position's first order ids

	// Deferred bracket parameters, fixed at entry placement. The target
	// prices anchor on the reference price and serve until a fill price
	// is known; afterwards bracket math re-anchors on the fill.
	CloseSide    binance.OrderSide
	PositionSide binance.PositionSide
	TPPrice      decimal.Decimal
	SLPrice      decimal.Decimal
	SLPct        float64

	// Fill state.
	EntryFilled   bool
	EntryPrice    decimal.Decimal
	EntryFillTime time.Time

	// Bracket state.
	TPSLPlaced  bool
	TPAlgoID    int64
	SLAlgoID    int64
	TPTriggered bool
	SLTriggered bool

	// Dynamic-TP state, restored from the checkpoint row on recovery.
	CurrentTPPct float64
	Strength     strategy.Strength
	Evaluated2h  bool
	Evaluated12h bool

	// Consecutive per-side placement failures; at the cap the side stops
	// retrying and the operator is paged.
	TPFailCount int
	SLFailCount int

	// Signal context carried into strategy evaluation. Zero after crash
	// recovery, which disables the consecutive-surge recheck.
	SignalTime  time.Time
	SignalRatio float64

	CreatedAt time.Time
	Closed    bool
}

// view snapshots the fields strategies are allowed to read. Callers
// hold p.mu.
func (p *TrackedPosition) view() strategy.PositionView {
	return strategy.PositionView{
		Symbol:        p.Symbol,
		Side:          p.Side,
		EntryPrice:    p.EntryPrice,
		Quantity:      p.Quantity,
		EntryFillTime: p.EntryFillTime,
		CreatedAt:     p.CreatedAt,
		SignalTime:    p.SignalTime,
		SignalRatio:   p.SignalRatio,
		CurrentTPPct:  p.CurrentTPPct,
		Strength:      p.Strength,
		Evaluated2h:   p.Evaluated2h,
		Evaluated12h:  p.Evaluated12h,
	}
}

// targetTPPrice is the take-profit trigger for the current TP
// percentage, anchored at the fill price once one is known.
func (p *TrackedPosition) targetTPPrice() decimal.Decimal {
	if p.EntryPrice.Sign() > 0 {
		return TPPriceFrom(p.Side, p.EntryPrice, p.CurrentTPPct)
	}
	return p.TPPrice
}

// targetSLPrice is the stop-loss trigger, anchored like targetTPPrice.
func (p *TrackedPosition) targetSLPrice() decimal.Decimal {
	if p.EntryPrice.Sign() > 0 {
		return SLPriceFrom(p.Side, p.EntryPrice, p.SLPct)
	}
	return p.SLPrice
}

// TPPriceFrom moves tpPct percent from base in the profitable
// direction: below entry for shorts, above for longs. The entry
// pipeline uses it to pre-compute deferred bracket targets from the
// reference price.
func TPPriceFrom(side binance.OrderSide, base decimal.Decimal, tpPct float64) decimal.Decimal {
	frac := decimal.NewFromFloat(tpPct / 100)
	if side == binance.SideSell {
		return base.Mul(decimal.NewFromInt(1).Sub(frac))
	}
	return base.Mul(decimal.NewFromInt(1).Add(frac))
}

// SLPriceFrom moves slPct percent from base in the losing direction.
func SLPriceFrom(side binance.OrderSide, base decimal.Decimal, slPct float64) decimal.Decimal {
	frac := decimal.NewFromFloat(slPct / 100)
	if side == binance.SideSell {
		return base.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return base.Mul(decimal.NewFromInt(1).Sub(frac))
}

// realizedEstimate is the close PnL computed from tracked prices, used
// when the exchange did not report one (poll-detected triggers, force
// closes). Stream fills carry the exact figure instead.
func realizedEstimate(side binance.OrderSide, entry, exit, qty decimal.Decimal) decimal.Decimal {
	if entry.Sign() <= 0 || exit.Sign() <= 0 {
		return decimal.Zero
	}
	if side == binance.SideSell {
		return entry.Sub(exit).Mul(qty)
	}
	return exit.Sub(entry).Mul(qty)
}
