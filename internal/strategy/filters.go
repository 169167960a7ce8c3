package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/scanner"
)

// Entry-check thresholds. These are policy constants rather than
// configuration: they encode when a surge stops being shortable at any
// tuning of the public knobs.
const (
	hourWindow = 24 // closed 1h bars the volume checks look back over
	recentBars = 6  // the "recent" slice of that window

	maxDrop24hPct           = 15.0 // the dump already played out
	maxEntryGainPct         = 2.0  // price ran up since the signal bar closed
	minEntryGainPct         = -3.0 // price already collapsed past the signal
	minPremiumPct           = -0.5 // futures at a deep discount, squeeze fuel
	maxBuyAcceleration      = 1.5  // recent buy/sell mean vs prior mean
	buySurgeMultiple        = 3.0  // an hour above this counts as a buy surge
	maxConsecutiveBuySurges = 2    // trailing buy-surge hours that block entry
	dangerRatioRecent       = 3.0  // max buy/sell ratio tolerated in recent bars
	dangerRatioDay          = 5.0  // max buy/sell ratio tolerated across the day
)

// entryCheck is one step of the pre-entry pipeline. A check may reject
// with a reason, pass, or error; errors fail open.
type entryCheck struct {
	name string
	run  func(metrics map[string]float64) (reject bool, reason string, err error)
}

// FilterEntry runs the risk-check pipeline against 24h of hourly bars
// plus the live premium index. The first rejecting check wins; check
// errors are logged and skipped so a data hiccup never blocks a trade.
func (s *SurgeShort) FilterEntry(client binance.Exchange, sig scanner.Signal, entryPrice decimal.Decimal, now time.Time) EntryDecision {
	dec := EntryDecision{
		Accept:  true,
		Side:    binance.SideSell,
		TPPct:   s.cfg.StrongTPPct,
		SLPct:   s.cfg.StopLossPct,
		Metrics: map[string]float64{"surge_ratio": sig.Ratio},
	}
	if !s.cfg.EnableRiskFilters {
		return dec
	}

	bars, err := s.dayBars(client, sig.Symbol, now)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("hourly window fetch failed, volume checks skipped")
		bars = nil
	}

	for _, check := range s.entryChecks(client, sig, entryPrice, bars) {
		reject, reason, err := check.run(dec.Metrics)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sig.Symbol).Str("check", check.name).Msg("entry check errored, failing open")
			continue
		}
		if reject {
			dec.Accept = false
			dec.Reason = reason
			s.log.Info().Str("symbol", sig.Symbol).Str("check", check.name).Msg("entry rejected")
			return dec
		}
	}
	return dec
}

// dayBars fetches the last hourWindow closed 1h bars, oldest first.
func (s *SurgeShort) dayBars(client binance.Exchange, symbol string, now time.Time) ([]binance.Kline, error) {
	end := now.UTC().Truncate(time.Hour) // open of the in-progress bar
	start := end.Add(-hourWindow * time.Hour)
	return client.GetKlines(symbol, "1h", start.UnixMilli(), end.UnixMilli()-1, hourWindow+1)
}

func (s *SurgeShort) entryChecks(client binance.Exchange, sig scanner.Signal, entryPrice decimal.Decimal, bars []binance.Kline) []entryCheck {
	hundred := decimal.NewFromInt(100)
	haveWindow := len(bars) >= hourWindow

	return []entryCheck{
		{"drop_24h", func(m map[string]float64) (bool, string, error) {
			if !haveWindow || bars[0].Close.Sign() <= 0 {
				return false, "", nil
			}
			drop, _ := bars[0].Close.Sub(entryPrice).Div(bars[0].Close).Mul(hundred).Float64()
			m["drop_24h_pct"] = drop
			if drop >= maxDrop24hPct {
				return true, fmt.Sprintf("24h drop %.1f%% already played out", drop), nil
			}
			return false, "", nil
		}},

		{"entry_gain", func(m map[string]float64) (bool, string, error) {
			if sig.Price.Sign() <= 0 {
				return false, "", nil
			}
			gain, _ := entryPrice.Sub(sig.Price).Div(sig.Price).Mul(hundred).Float64()
			m["entry_gain_pct"] = gain
			if gain > maxEntryGainPct {
				return true, fmt.Sprintf("price ran %.1f%% above the signal, squeeze in progress", gain), nil
			}
			if gain < minEntryGainPct {
				return true, fmt.Sprintf("price already fell %.1f%% past the signal", gain), nil
			}
			return false, "", nil
		}},

		{"cvd_new_low", func(m map[string]float64) (bool, string, error) {
			if !haveWindow {
				return false, "", nil
			}
			cvd := cvdSeries(bars)
			last := cvd[len(cvd)-1]
			low := cvd[0]
			for _, v := range cvd {
				if v.LessThan(low) {
					low = v
				}
			}
			m["cvd_last"], _ = last.Float64()
			m["cvd_low"], _ = low.Float64()
			if last.GreaterThan(low) {
				return true, "cumulative volume delta not at a new low, selling absorbed", nil
			}
			return false, "", nil
		}},

		{"premium", func(m map[string]float64) (bool, string, error) {
			idx, err := client.GetPremiumIndex(sig.Symbol)
			if err != nil {
				return false, "", err
			}
			pct, _ := idx.Premium().Mul(hundred).Float64()
			m["premium_pct"] = pct
			if pct < minPremiumPct {
				return true, fmt.Sprintf("futures premium %.2f%%, discount too deep", pct), nil
			}
			return false, "", nil
		}},

		{"buy_acceleration", func(m map[string]float64) (bool, string, error) {
			if !haveWindow {
				return false, "", nil
			}
			recent, okRecent := meanBuySellRatio(bars[len(bars)-recentBars:])
			prior, okPrior := meanBuySellRatio(bars[:len(bars)-recentBars])
			if !okRecent || !okPrior || prior <= 0 {
				return false, "", nil
			}
			accel := recent / prior
			m["buy_acceleration"] = accel
			if accel >= maxBuyAcceleration {
				return true, fmt.Sprintf("buy pressure accelerating %.2fx over the prior 18h", accel), nil
			}
			return false, "", nil
		}},

		{"consecutive_buy_surges", func(m map[string]float64) (bool, string, error) {
			if !haveWindow {
				return false, "", nil
			}
			baseline := meanBuyVolume(bars[:len(bars)-recentBars])
			if baseline.Sign() <= 0 {
				return false, "", nil
			}
			threshold := baseline.Mul(decimal.NewFromFloat(buySurgeMultiple))
			streak := 0
			for i := len(bars) - 1; i >= 0; i-- {
				if !bars[i].BuyVolume().GreaterThanOrEqual(threshold) {
					break
				}
				streak++
			}
			m["consecutive_buy_surges"] = float64(streak)
			if streak >= maxConsecutiveBuySurges {
				return true, fmt.Sprintf("%d consecutive buy-volume surges, dip buyers active", streak), nil
			}
			return false, "", nil
		}},

		{"danger_buy_sell_ratio", func(m map[string]float64) (bool, string, error) {
			if !haveWindow {
				return false, "", nil
			}
			var maxRecent, maxDay float64
			for i, bar := range bars {
				ratio, ok := buySellRatio(bar)
				if !ok {
					continue
				}
				if ratio > maxDay {
					maxDay = ratio
				}
				if i >= len(bars)-recentBars && ratio > maxRecent {
					maxRecent = ratio
				}
			}
			m["max_buy_sell_6h"] = maxRecent
			m["max_buy_sell_24h"] = maxDay
			if maxRecent >= dangerRatioRecent {
				return true, fmt.Sprintf("buy/sell ratio %.1f in the last %dh", maxRecent, recentBars), nil
			}
			if maxDay >= dangerRatioDay {
				return true, fmt.Sprintf("buy/sell ratio %.1f within the last %dh", maxDay, hourWindow), nil
			}
			return false, "", nil
		}},
	}
}

// cvdSeries is the running taker buy-minus-sell volume per bar.
func cvdSeries(bars []binance.Kline) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	run := decimal.Zero
	for i, bar := range bars {
		run = run.Add(bar.BuyVolume().Sub(bar.SellVolume()))
		out[i] = run
	}
	return out
}

// buySellRatio is taker buy volume over taker sell volume for one bar;
// ok is false when the bar has no sell volume.
func buySellRatio(bar binance.Kline) (float64, bool) {
	sell := bar.SellVolume()
	if sell.Sign() <= 0 {
		return 0, false
	}
	ratio, _ := bar.BuyVolume().Div(sell).Float64()
	return ratio, true
}

// meanBuySellRatio averages buySellRatio over a slice, skipping bars
// without sell volume.
func meanBuySellRatio(bars []binance.Kline) (float64, bool) {
	var sum float64
	var n int
	for _, bar := range bars {
		if ratio, ok := buySellRatio(bar); ok {
			sum += ratio
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func meanBuyVolume(bars []binance.Kline) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, bar := range bars {
		sum = sum.Add(bar.BuyVolume())
	}
	return sum.Div(decimal.NewFromInt(int64(len(bars))))
}
