package binance

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return v
}

func TestRoundPriceDown(t *testing.T) {
	testCases := []struct {
		name  string
		price string
		tick  string
		want  string
	}{
		{"already aligned", "27123.10", "0.10", "27123.1"},
		{"rounds down not nearest", "27123.19", "0.10", "27123.1"},
		{"sub-cent tick", "0.0737761", "0.0000001", "0.0737761"},
		{"truncates excess digits", "0.07377615999", "0.0000001", "0.0737761"},
		{"half tick", "2.76", "0.5", "2.5"},
		{"integer tick", "1234.9", "1", "1234"},
		{"price below one tick", "0.04", "0.10", "0"},
		{"zero tick passes through", "19.55", "0", "19.55"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundPriceDown(d(t, tc.price), d(t, tc.tick))
			if got.String() != tc.want {
				t.Errorf("RoundPriceDown(%s, %s) = %s, want %s", tc.price, tc.tick, got.String(), tc.want)
			}
		})
	}
}

func TestRoundQuantityDown(t *testing.T) {
	testCases := []struct {
		name string
		qty  string
		step string
		want string
	}{
		{"whole coins", "3.999", "1", "3"},
		{"milli step", "0.12345", "0.001", "0.123"},
		{"step equals qty", "0.001", "0.001", "0.001"},
		{"qty smaller than step", "0.0004", "0.001", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundQuantityDown(d(t, tc.qty), d(t, tc.step))
			if got.String() != tc.want {
				t.Errorf("RoundQuantityDown(%s, %s) = %s, want %s", tc.qty, tc.step, got.String(), tc.want)
			}
		})
	}
}

// The serialised form must never carry more decimals than the tick
// itself, or the exchange rejects the order with a precision error.
func TestRoundingNormalisesExponent(t *testing.T) {
	price := d(t, "265.4000000000001")
	tick := d(t, "0.001")

	got := RoundPriceDown(price, tick)
	if got.Exponent() < tick.Exponent() {
		t.Errorf("rounded exponent %d finer than tick exponent %d", got.Exponent(), tick.Exponent())
	}
	if got.String() != "265.4" {
		t.Errorf("got %s, want 265.4", got.String())
	}
}

func TestSymbolRulesRounding(t *testing.T) {
	rules := &SymbolRules{
		Symbol:   "BTCUSDT",
		TickSize: d(t, "0.10"),
		StepSize: d(t, "0.001"),
	}

	if got := rules.RoundPrice(d(t, "27123.19")); got.String() != "27123.1" {
		t.Errorf("RoundPrice = %s, want 27123.1", got.String())
	}
	if got := rules.RoundQuantity(d(t, "0.0456789")); got.String() != "0.045" {
		t.Errorf("RoundQuantity = %s, want 0.045", got.String())
	}
}
