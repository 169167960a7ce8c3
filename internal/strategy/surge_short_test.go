package strategy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/notification"
	"github.com/koshedu/surge-short-bot/internal/scanner"
)

// stubExchange supplies no-op defaults so fakes only override what a
// test exercises.
type stubExchange struct{}

func (stubExchange) ExchangeInfoCached() (*binance.ExchangeInfo, error) {
	return &binance.ExchangeInfo{}, nil
}
func (stubExchange) SymbolRulesCached(string) (*binance.SymbolRules, error) {
	return &binance.SymbolRules{}, nil
}
func (stubExchange) GetKlines(string, string, int64, int64, int) ([]binance.Kline, error) {
	return nil, nil
}
func (stubExchange) GetTickerPrice(string) (*binance.TickerPrice, error) {
	return &binance.TickerPrice{}, nil
}
func (stubExchange) GetPremiumIndex(string) (*binance.PremiumIndex, error) {
	return &binance.PremiumIndex{}, nil
}
func (stubExchange) PlaceOrder(binance.OrderParams) (*binance.Order, error) {
	return &binance.Order{}, nil
}
func (stubExchange) PlaceMarketClose(string, binance.OrderSide, binance.PositionSide, decimal.Decimal, string) (*binance.Order, error) {
	return &binance.Order{}, nil
}
func (stubExchange) QueryOrder(string, int64) (*binance.Order, error) {
	return &binance.Order{}, nil
}
func (stubExchange) CancelOrder(string, int64) (*binance.Order, error) {
	return &binance.Order{}, nil
}
func (stubExchange) GetOpenOrders(string) ([]binance.Order, error) { return nil, nil }
func (stubExchange) PlaceAlgoOrder(binance.AlgoOrderParams) (*binance.AlgoOrderResponse, error) {
	return &binance.AlgoOrderResponse{}, nil
}
func (stubExchange) CancelAlgoOrder(int64) (*binance.AlgoOrderResponse, error) {
	return &binance.AlgoOrderResponse{}, nil
}
func (stubExchange) GetOpenAlgoOrders(string) ([]binance.AlgoOrder, error)  { return nil, nil }
func (stubExchange) GetPositionRisk(string) ([]binance.PositionRisk, error) { return nil, nil }
func (stubExchange) GetBalances() ([]binance.AccountBalance, error)         { return nil, nil }
func (stubExchange) FreeUSDT() (decimal.Decimal, error)                     { return decimal.Zero, nil }
func (stubExchange) GetAccountInfo() (*binance.AccountInfo, error) {
	return &binance.AccountInfo{}, nil
}
func (stubExchange) SetLeverage(string, int) (*binance.LeverageResponse, error) {
	return &binance.LeverageResponse{}, nil
}
func (stubExchange) SetMarginType(string, binance.MarginType) error { return nil }
func (stubExchange) GetPositionMode() (bool, error)                 { return false, nil }
func (stubExchange) GetIncomeHistory(string, int64, int64, int) ([]binance.IncomeRecord, error) {
	return nil, nil
}
func (stubExchange) GetUserTrades(string, int64, int64, int) ([]binance.UserTrade, error) {
	return nil, nil
}

// fakeFeed serves canned kline and premium data. 5m requests answer the
// follow-through window, 1h requests with limit 1 and 1d requests answer
// surge-ratio lookups by open time, and wider 1h requests answer the
// entry-filter window.
type fakeFeed struct {
	stubExchange
	bars5m   []binance.Kline
	err5m    error
	window1h []binance.Kline
	errWin   error
	hourSell map[int64]string
	daySell  map[int64]string
	premium  *binance.PremiumIndex
	errPrem  error
}

func (f *fakeFeed) GetKlines(symbol, interval string, startMs, endMs int64, limit int) ([]binance.Kline, error) {
	switch interval {
	case "5m":
		if f.err5m != nil {
			return nil, f.err5m
		}
		return f.bars5m, nil
	case "1h":
		if limit == 1 {
			if sell, ok := f.hourSell[startMs]; ok {
				return []binance.Kline{volumeBar(startMs, "0", sell)}, nil
			}
			return nil, nil
		}
		if f.errWin != nil {
			return nil, f.errWin
		}
		return f.window1h, nil
	case "1d":
		if sell, ok := f.daySell[startMs]; ok {
			return []binance.Kline{volumeBar(startMs, "0", sell)}, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (f *fakeFeed) GetPremiumIndex(string) (*binance.PremiumIndex, error) {
	if f.errPrem != nil {
		return nil, f.errPrem
	}
	if f.premium != nil {
		return f.premium, nil
	}
	return &binance.PremiumIndex{}, nil
}

// volumeBar builds a bar with explicit taker buy and sell base volumes.
func volumeBar(openMs int64, buy, sell string) binance.Kline {
	b := decimal.RequireFromString(buy)
	s := decimal.RequireFromString(sell)
	return binance.Kline{
		OpenTime:           openMs,
		Close:              decimal.NewFromInt(100),
		Volume:             b.Add(s),
		TakerBuyBaseVolume: b,
	}
}

// followBars builds a 5m follow-through window where the first dropped
// bars close dropPct below entry and the rest close flat at entry.
func followBars(entry decimal.Decimal, dropped, total int, dropPct float64) []binance.Kline {
	bars := make([]binance.Kline, total)
	down := entry.Mul(decimal.NewFromFloat(1 - dropPct/100))
	for i := range bars {
		c := entry
		if i < dropped {
			c = down
		}
		bars[i] = binance.Kline{OpenTime: int64(i), Close: c}
	}
	return bars
}

func newTestPolicy(cfg *config.Config) *SurgeShort {
	return NewSurgeShort(cfg, notification.NewManager(zerolog.Nop()), zerolog.Nop())
}

func shortPosition(fill time.Time, tpPct float64) PositionView {
	return PositionView{
		Symbol:        "ALTUSDT",
		Side:          binance.SideSell,
		EntryPrice:    decimal.NewFromInt(100),
		Quantity:      decimal.NewFromInt(10),
		EntryFillTime: fill,
		CreatedAt:     fill,
		CurrentTPPct:  tpPct,
		Strength:      StrengthStrong,
	}
}

func TestEvaluatePositionMaxHold(t *testing.T) {
	cfg := config.Default()
	s := newTestPolicy(cfg)
	fill := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	pos := shortPosition(fill, cfg.StrongTPPct)
	pos.Evaluated2h = true
	pos.Evaluated12h = true

	act := s.EvaluatePosition(&fakeFeed{}, pos, fill.Add(24*time.Hour))
	if act.Action != ActionClose || act.Reason != ReasonMaxHold {
		t.Fatalf("expected timeout close, got %+v", act)
	}

	act = s.EvaluatePosition(&fakeFeed{}, pos, fill.Add(23*time.Hour))
	if act.Action != ActionHold {
		t.Fatalf("expected hold before the horizon, got %+v", act)
	}

	cfg.MaxHoldHrs = 0
	act = s.EvaluatePosition(&fakeFeed{}, pos, fill.Add(48*time.Hour))
	if act.Action != ActionHold {
		t.Fatalf("expected hold with the horizon disabled, got %+v", act)
	}
}

func TestEvaluatePositionCheckpoint2h(t *testing.T) {
	cfg := config.Default()
	fill := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	now := fill.Add(2*time.Hour + time.Minute)
	entry := decimal.NewFromInt(100)

	tests := []struct {
		name         string
		bars         []binance.Kline
		currentTPPct float64
		wantAction   ActionType
		wantTPPct    float64
		wantStrength Strength
	}{
		{
			// 7 of 10 bars beyond the 0.5% growth bar clears the 0.6 ratio.
			name:         "strong keeps the armed target",
			bars:         followBars(entry, 7, 10, 1.0),
			currentTPPct: cfg.StrongTPPct,
			wantAction:   ActionHold,
			wantStrength: StrengthStrong,
		},
		{
			name:         "medium retargets the take-profit",
			bars:         followBars(entry, 3, 10, 1.0),
			currentTPPct: cfg.StrongTPPct,
			wantAction:   ActionAdjustTP,
			wantTPPct:    cfg.MediumTPPct,
			wantStrength: StrengthMedium,
		},
		{
			name:         "empty window falls back to medium",
			bars:         nil,
			currentTPPct: cfg.StrongTPPct,
			wantAction:   ActionAdjustTP,
			wantTPPct:    cfg.MediumTPPct,
			wantStrength: StrengthMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestPolicy(cfg)
			pos := shortPosition(fill, tt.currentTPPct)

			act := s.EvaluatePosition(&fakeFeed{bars5m: tt.bars}, pos, now)
			if act.Action != tt.wantAction {
				t.Fatalf("action = %s, want %s", act.Action, tt.wantAction)
			}
			if tt.wantAction == ActionAdjustTP && act.NewTPPct != tt.wantTPPct {
				t.Fatalf("new tp pct = %.2f, want %.2f", act.NewTPPct, tt.wantTPPct)
			}
			if act.NewStrength != tt.wantStrength {
				t.Fatalf("strength = %s, want %s", act.NewStrength, tt.wantStrength)
			}
			if !act.Evaluated2h {
				t.Fatal("checkpoint completion not reported")
			}
			if act.Evaluated12h {
				t.Fatal("12h checkpoint reported early")
			}
		})
	}
}

func TestEvaluatePositionCheckpoint2hRetriesOnError(t *testing.T) {
	cfg := config.Default()
	s := newTestPolicy(cfg)
	fill := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	pos := shortPosition(fill, cfg.StrongTPPct)

	feed := &fakeFeed{err5m: errors.New("timeout")}
	act := s.EvaluatePosition(feed, pos, fill.Add(3*time.Hour))
	if act.Action != ActionHold || act.Evaluated2h {
		t.Fatalf("expected pending hold on fetch error, got %+v", act)
	}
}

func TestEvaluatePositionCheckpoint12h(t *testing.T) {
	cfg := config.Default()
	fill := time.Date(2025, 6, 3, 10, 5, 0, 0, time.UTC)
	now := fill.Add(12*time.Hour + time.Minute)
	entry := decimal.NewFromInt(100)

	signalTime := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	yesterday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	signalHour := signalTime // already on the boundary
	entryHour := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	surgeFeed := func(entryHourSell string) *fakeFeed {
		return &fakeFeed{
			bars5m: followBars(entry, 1, 10, 1.5), // 0.1 < 0.5, not strong
			daySell: map[int64]string{
				yesterday.UnixMilli(): "240", // 10 per hour average
			},
			hourSell: map[int64]string{
				signalHour.UnixMilli(): "150", // 15x
				entryHour.UnixMilli():  entryHourSell,
			},
		}
	}

	t.Run("strong follow-through re-arms the strong target", func(t *testing.T) {
		s := newTestPolicy(cfg)
		pos := shortPosition(fill, cfg.MediumTPPct)
		pos.Evaluated2h = true

		feed := &fakeFeed{bars5m: followBars(entry, 6, 10, 1.5)}
		act := s.EvaluatePosition(feed, pos, now)
		if act.Action != ActionAdjustTP || act.NewTPPct != cfg.StrongTPPct || act.NewStrength != StrengthStrong {
			t.Fatalf("expected strong retarget, got %+v", act)
		}
		if !act.Evaluated12h {
			t.Fatal("checkpoint completion not reported")
		}
	})

	t.Run("stalled position downgrades to weak", func(t *testing.T) {
		s := newTestPolicy(cfg)
		pos := shortPosition(fill, cfg.MediumTPPct)
		pos.Evaluated2h = true

		feed := &fakeFeed{bars5m: followBars(entry, 1, 10, 1.5)}
		act := s.EvaluatePosition(feed, pos, now)
		if act.Action != ActionAdjustTP || act.NewTPPct != cfg.WeakTPPct || act.NewStrength != StrengthWeak {
			t.Fatalf("expected weak retarget, got %+v", act)
		}
		if !act.Evaluated12h {
			t.Fatal("checkpoint completion not reported")
		}
	})

	t.Run("consecutive surge keeps the current target", func(t *testing.T) {
		s := newTestPolicy(cfg)
		pos := shortPosition(fill, cfg.MediumTPPct)
		pos.Evaluated2h = true
		pos.SignalTime = signalTime

		act := s.EvaluatePosition(surgeFeed("180"), pos, now)
		if act.Action != ActionHold {
			t.Fatalf("expected hold under surge protection, got %+v", act)
		}
		if !act.Evaluated12h {
			t.Fatal("checkpoint completion not reported")
		}
	})

	t.Run("protection needs the entry hour surging too", func(t *testing.T) {
		s := newTestPolicy(cfg)
		pos := shortPosition(fill, cfg.MediumTPPct)
		pos.Evaluated2h = true
		pos.SignalTime = signalTime

		act := s.EvaluatePosition(surgeFeed("50"), pos, now)
		if act.Action != ActionAdjustTP || act.NewStrength != StrengthWeak {
			t.Fatalf("expected weak retarget with a quiet entry hour, got %+v", act)
		}
	})

	t.Run("recovered position without signal time skips protection", func(t *testing.T) {
		s := newTestPolicy(cfg)
		pos := shortPosition(fill, cfg.MediumTPPct)
		pos.Evaluated2h = true
		pos.SignalTime = time.Time{}

		act := s.EvaluatePosition(surgeFeed("180"), pos, now)
		if act.Action != ActionAdjustTP || act.NewStrength != StrengthWeak {
			t.Fatalf("expected weak retarget without signal context, got %+v", act)
		}
	})
}

func TestEvaluatePositionHoldsBetweenCheckpoints(t *testing.T) {
	cfg := config.Default()
	s := newTestPolicy(cfg)
	fill := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	pos := shortPosition(fill, cfg.StrongTPPct)
	act := s.EvaluatePosition(&fakeFeed{}, pos, fill.Add(time.Hour))
	if act.Action != ActionHold || act.Evaluated2h || act.Evaluated12h {
		t.Fatalf("expected plain hold inside the first 2h, got %+v", act)
	}

	pos.Evaluated2h = true
	pos.Evaluated12h = true
	act = s.EvaluatePosition(&fakeFeed{}, pos, fill.Add(13*time.Hour))
	if act.Action != ActionHold {
		t.Fatalf("expected hold once both checkpoints ran, got %+v", act)
	}
}

// quietWindow is 24 sell-dominant hours: ratio 0.4, falling CVD, no
// surges. Every filter passes on it.
func quietWindow() []binance.Kline {
	bars := make([]binance.Kline, hourWindow)
	for i := range bars {
		bars[i] = volumeBar(int64(i), "40", "100")
	}
	return bars
}

func testSignal() scanner.Signal {
	return scanner.Signal{
		Symbol: "ALTUSDT",
		Ratio:  12,
		Price:  decimal.NewFromInt(100),
	}
}

func TestFilterEntryDisabledSkipsChecks(t *testing.T) {
	cfg := config.Default()
	cfg.EnableRiskFilters = false
	s := newTestPolicy(cfg)

	feed := &fakeFeed{errWin: errors.New("unreachable"), errPrem: errors.New("unreachable")}
	dec := s.FilterEntry(feed, testSignal(), decimal.NewFromInt(100), time.Now().UTC())
	if !dec.Accept {
		t.Fatalf("expected acceptance with filters disabled, got %+v", dec)
	}
	if dec.Side != binance.SideSell || dec.TPPct != cfg.StrongTPPct || dec.SLPct != cfg.StopLossPct {
		t.Fatalf("unexpected entry defaults: %+v", dec)
	}
	if dec.Metrics["surge_ratio"] != 12 {
		t.Fatalf("surge ratio metric = %v", dec.Metrics["surge_ratio"])
	}
}

func TestFilterEntryAcceptsQuietTape(t *testing.T) {
	cfg := config.Default()
	s := newTestPolicy(cfg)

	feed := &fakeFeed{window1h: quietWindow()}
	dec := s.FilterEntry(feed, testSignal(), decimal.NewFromInt(100), time.Now().UTC())
	if !dec.Accept {
		t.Fatalf("quiet tape rejected: %s", dec.Reason)
	}
	for _, metric := range []string{"surge_ratio", "drop_24h_pct", "entry_gain_pct", "cvd_last", "premium_pct", "buy_acceleration"} {
		if _, ok := dec.Metrics[metric]; !ok {
			t.Fatalf("metric %s missing: %v", metric, dec.Metrics)
		}
	}
}

func TestFilterEntryRejections(t *testing.T) {
	cfg := config.Default()
	entry := decimal.NewFromInt(100)

	tests := []struct {
		name       string
		mutate     func(bars []binance.Kline) []binance.Kline
		entryPrice decimal.Decimal
		sigPrice   decimal.Decimal
		premium    *binance.PremiumIndex
		wantReason string
	}{
		{
			name: "dump already played out",
			mutate: func(bars []binance.Kline) []binance.Kline {
				bars[0].Close = decimal.NewFromInt(120)
				return bars
			},
			entryPrice: entry,
			sigPrice:   entry,
			wantReason: "already played out",
		},
		{
			name:       "price ran above the signal",
			mutate:     func(bars []binance.Kline) []binance.Kline { return bars },
			entryPrice: decimal.NewFromInt(103),
			sigPrice:   entry,
			wantReason: "above the signal",
		},
		{
			name:       "price collapsed past the signal",
			mutate:     func(bars []binance.Kline) []binance.Kline { return bars },
			entryPrice: decimal.NewFromInt(96),
			sigPrice:   entry,
			wantReason: "past the signal",
		},
		{
			name: "volume delta recovering",
			mutate: func(bars []binance.Kline) []binance.Kline {
				for i := len(bars) - 3; i < len(bars); i++ {
					bars[i] = volumeBar(int64(i), "150", "50")
				}
				return bars
			},
			entryPrice: entry,
			sigPrice:   entry,
			wantReason: "volume delta",
		},
		{
			name:       "futures at a deep discount",
			mutate:     func(bars []binance.Kline) []binance.Kline { return bars },
			entryPrice: entry,
			sigPrice:   entry,
			premium: &binance.PremiumIndex{
				MarkPrice:  decimal.RequireFromString("99"),
				IndexPrice: decimal.RequireFromString("100"),
			},
			wantReason: "discount too deep",
		},
		{
			name: "buy pressure accelerating",
			mutate: func(bars []binance.Kline) []binance.Kline {
				// ratio 0.8 vs baseline 0.4, CVD still falling
				for i := len(bars) - recentBars; i < len(bars); i++ {
					bars[i] = volumeBar(int64(i), "80", "100")
				}
				return bars
			},
			entryPrice: entry,
			sigPrice:   entry,
			wantReason: "accelerating",
		},
		{
			name: "dip buyers stacking surges",
			mutate: func(bars []binance.Kline) []binance.Kline {
				// two trailing hours at 3x the baseline buy volume,
				// sell-dominant so the delta keeps falling
				for i := len(bars) - 2; i < len(bars); i++ {
					bars[i] = volumeBar(int64(i), "120", "200")
				}
				return bars
			},
			entryPrice: entry,
			sigPrice:   entry,
			wantReason: "dip buyers",
		},
		{
			name: "dangerous recent buy ratio",
			mutate: func(bars []binance.Kline) []binance.Kline {
				bars[len(bars)-recentBars] = volumeBar(0, "150", "50")
				for i := len(bars) - recentBars + 1; i < len(bars); i++ {
					bars[i] = volumeBar(int64(i), "10", "100")
				}
				return bars
			},
			entryPrice: entry,
			sigPrice:   entry,
			wantReason: "buy/sell ratio",
		},
		{
			name: "dangerous daily buy ratio",
			mutate: func(bars []binance.Kline) []binance.Kline {
				bars[2] = volumeBar(2, "250", "50")
				return bars
			},
			entryPrice: entry,
			sigPrice:   entry,
			wantReason: "buy/sell ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestPolicy(cfg)
			sig := testSignal()
			sig.Price = tt.sigPrice

			feed := &fakeFeed{window1h: tt.mutate(quietWindow()), premium: tt.premium}
			dec := s.FilterEntry(feed, sig, tt.entryPrice, time.Now().UTC())
			if dec.Accept {
				t.Fatalf("expected rejection, metrics %v", dec.Metrics)
			}
			if !strings.Contains(dec.Reason, tt.wantReason) {
				t.Fatalf("reason %q does not mention %q", dec.Reason, tt.wantReason)
			}
		})
	}
}

func TestFilterEntryFailsOpenOnDataErrors(t *testing.T) {
	cfg := config.Default()
	s := newTestPolicy(cfg)

	feed := &fakeFeed{
		errWin:  errors.New("window fetch failed"),
		errPrem: errors.New("premium fetch failed"),
	}
	dec := s.FilterEntry(feed, testSignal(), decimal.NewFromInt(100), time.Now().UTC())
	if !dec.Accept {
		t.Fatalf("expected fail-open acceptance, got %q", dec.Reason)
	}
}
