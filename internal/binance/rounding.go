package binance

import "github.com/shopspring/decimal"

// RoundPriceDown floors price to the nearest multiple of the tick size
// and quantises the result to the tick's decimal exponent, so the
// serialised string never exceeds the exchange's price precision.
func RoundPriceDown(price, tick decimal.Decimal) decimal.Decimal {
	return floorToIncrement(price, tick)
}

// RoundQuantityDown floors qty to the nearest multiple of the step size.
func RoundQuantityDown(qty, step decimal.Decimal) decimal.Decimal {
	return floorToIncrement(qty, step)
}

func floorToIncrement(value, increment decimal.Decimal) decimal.Decimal {
	if increment.Sign() <= 0 {
		return value
	}
	rounded := value.Div(increment).Floor().Mul(increment)
	places := int32(0)
	if exp := increment.Exponent(); exp < 0 {
		places = -exp
	}
	return rounded.Truncate(places)
}

// RoundPrice applies the symbol's tick size.
func (r *SymbolRules) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return RoundPriceDown(price, r.TickSize)
}

// RoundQuantity applies the symbol's step size.
func (r *SymbolRules) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	return RoundQuantityDown(qty, r.StepSize)
}
