package scanner

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/notification"
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

// fakeMarket answers kline and exchange-info queries from canned
// volumes. Bars echo the requested open time so any scan date works.
type fakeMarket struct {
	stubExchange
	symbols   []string
	daySell   map[string]string // yesterday's total sell volume per symbol
	hourSell  map[string]string // last closed hour's sell volume per symbol
	infoCalls atomic.Int64
}

func (f *fakeMarket) ExchangeInfoCached() (*binance.ExchangeInfo, error) {
	f.infoCalls.Add(1)
	info := &binance.ExchangeInfo{}
	for _, s := range f.symbols {
		info.Symbols = append(info.Symbols, binance.SymbolInfo{
			Symbol:       s,
			ContractType: "PERPETUAL",
			Status:       "TRADING",
			QuoteAsset:   "USDT",
		})
	}
	return info, nil
}

func (f *fakeMarket) GetKlines(symbol, interval string, startMs, endMs int64, limit int) ([]binance.Kline, error) {
	var sell string
	switch interval {
	case "1d":
		sell = f.daySell[symbol]
	case "1h":
		sell = f.hourSell[symbol]
	}
	if sell == "" {
		return nil, nil
	}
	return []binance.Kline{barWithSellVolume(startMs, sell)}, nil
}

// barWithSellVolume builds a bar whose taker-sell share equals sell:
// total volume is twice the sell volume with the buy half as taker-buy.
func barWithSellVolume(openMs int64, sell string) binance.Kline {
	s := decimal.RequireFromString(sell)
	return binance.Kline{
		OpenTime:           openMs,
		Close:              decimal.RequireFromString("0.0737"),
		Volume:             s.Mul(decimal.NewFromInt(2)),
		TakerBuyBaseVolume: s,
	}
}

func newTestScanner(t *testing.T, market binance.Exchange, out chan Signal) *Scanner {
	t.Helper()
	cfg := config.Default()
	cfg.ScannerConcurrency = 2
	return New(cfg, out, market, notification.NewManager(zerolog.Nop()), zerolog.Nop())
}

// noonToday anchors scan times away from the UTC midnight rollover so
// same-day arithmetic in tests stays on one calendar day.
func noonToday() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).Add(12 * time.Hour)
}

func TestScanEmitsSurgeSignal(t *testing.T) {
	market := &fakeMarket{
		symbols:  []string{"ALPHAUSDT"},
		daySell:  map[string]string{"ALPHAUSDT": "1200"}, // 50/h average
		hourSell: map[string]string{"ALPHAUSDT": "600"},  // 12x
	}
	out := make(chan Signal, 4)
	s := newTestScanner(t, market, out)

	now := noonToday()
	s.scan(now)

	if len(out) != 1 {
		t.Fatalf("signals = %d, want 1", len(out))
	}
	sig := <-out
	if sig.Symbol != "ALPHAUSDT" {
		t.Errorf("symbol = %s", sig.Symbol)
	}
	if sig.Ratio != 12.0 {
		t.Errorf("ratio = %v, want 12", sig.Ratio)
	}
	wantSignalTime := now.Truncate(time.Hour).Add(-time.Hour)
	if !sig.SignalTime.Equal(wantSignalTime) {
		t.Errorf("signal time = %v, want %v", sig.SignalTime, wantSignalTime)
	}
	if !sig.Price.Equal(decimal.RequireFromString("0.0737")) {
		t.Errorf("price = %s", sig.Price.String())
	}
	if !sig.AvgHourlySell.Equal(decimal.RequireFromString("50")) {
		t.Errorf("avg hourly sell = %s", sig.AvgHourlySell.String())
	}
	if !sig.HourlySell.Equal(decimal.RequireFromString("600")) {
		t.Errorf("hourly sell = %s", sig.HourlySell.String())
	}

	res := s.LastResult()
	if res == nil || res.Scanned != 1 || res.Signals != 1 || res.Errors != 0 {
		t.Errorf("last result = %+v", res)
	}
}

func TestScanDeduplicatesWithinDay(t *testing.T) {
	market := &fakeMarket{
		symbols:  []string{"ALPHAUSDT"},
		daySell:  map[string]string{"ALPHAUSDT": "1200"},
		hourSell: map[string]string{"ALPHAUSDT": "600"},
	}
	out := make(chan Signal, 4)
	s := newTestScanner(t, market, out)

	now := noonToday()
	s.scan(now)
	s.scan(now.Add(time.Hour))

	if len(out) != 1 {
		t.Fatalf("signals = %d, want 1 per symbol per day", len(out))
	}
}

func TestScanDayRolloverResetsDedupAndSymbols(t *testing.T) {
	market := &fakeMarket{
		symbols:  []string{"ALPHAUSDT"},
		daySell:  map[string]string{"ALPHAUSDT": "1200"},
		hourSell: map[string]string{"ALPHAUSDT": "600"},
	}
	out := make(chan Signal, 4)
	s := newTestScanner(t, market, out)

	now := noonToday()
	s.scan(now)
	s.scan(now.Add(time.Hour)) // same day: deduplicated, no refresh
	s.scan(now.Add(25 * time.Hour))

	if len(out) != 2 {
		t.Fatalf("signals = %d, want 2 (one per day)", len(out))
	}
	if calls := market.infoCalls.Load(); calls != 2 {
		t.Errorf("symbol list refreshes = %d, want one per day", calls)
	}
}

func TestStopLossCooldownBlocksSameDay(t *testing.T) {
	market := &fakeMarket{
		symbols:  []string{"ALPHAUSDT"},
		daySell:  map[string]string{"ALPHAUSDT": "1200"},
		hourSell: map[string]string{"ALPHAUSDT": "600"},
	}
	out := make(chan Signal, 4)
	s := newTestScanner(t, market, out)

	s.MarkStopLoss("ALPHAUSDT")
	now := noonToday()
	s.scan(now)
	if len(out) != 0 {
		t.Fatalf("signals = %d, want 0 during cooldown", len(out))
	}

	// Next UTC day the cooldown no longer applies.
	s.scan(now.Add(24 * time.Hour))
	if len(out) != 1 {
		t.Fatalf("signals = %d, want 1 after day rollover", len(out))
	}
}

func TestScanRatioBounds(t *testing.T) {
	// Yesterday 1200 total sell = 50/hour average.
	tests := []struct {
		name     string
		hourSell string
		want     int
	}{
		{"below threshold", "450", 0},    // 9x
		{"exactly threshold", "500", 1},  // 10x
		{"exactly max", "4000", 1},       // 80x
		{"above max", "4050", 0},         // 81x, data-glitch band
		{"zero hourly sell", "0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			market := &fakeMarket{
				symbols:  []string{"ALPHAUSDT"},
				daySell:  map[string]string{"ALPHAUSDT": "1200"},
				hourSell: map[string]string{"ALPHAUSDT": tt.hourSell},
			}
			out := make(chan Signal, 4)
			s := newTestScanner(t, market, out)
			s.scan(noonToday())
			if len(out) != tt.want {
				t.Errorf("signals = %d, want %d", len(out), tt.want)
			}
		})
	}
}

func TestScanZeroDailyAverageGuarded(t *testing.T) {
	market := &fakeMarket{
		symbols:  []string{"ALPHAUSDT", "BETAUSDT"},
		daySell:  map[string]string{"ALPHAUSDT": "0", "BETAUSDT": "1200"},
		hourSell: map[string]string{"ALPHAUSDT": "600", "BETAUSDT": "600"},
	}
	out := make(chan Signal, 4)
	s := newTestScanner(t, market, out)
	s.scan(noonToday())

	if len(out) != 1 {
		t.Fatalf("signals = %d, want 1 (zero-average symbol skipped)", len(out))
	}
	if sig := <-out; sig.Symbol != "BETAUSDT" {
		t.Errorf("symbol = %s, want BETAUSDT", sig.Symbol)
	}
	if res := s.LastResult(); res.Errors != 0 {
		t.Errorf("errors = %d, zero average is not an error", res.Errors)
	}
}

func TestScanMissingYesterdayBarSkipped(t *testing.T) {
	// A symbol listed today has no yesterday bar at the requested open
	// time; the scanner must not misread today's bar as the average.
	market := &fakeMarket{
		symbols:  []string{"NEWUSDT"},
		daySell:  map[string]string{},
		hourSell: map[string]string{"NEWUSDT": "600"},
	}
	out := make(chan Signal, 4)
	s := newTestScanner(t, market, out)
	s.scan(noonToday())
	if len(out) != 0 {
		t.Fatalf("signals = %d, want 0 without a daily average", len(out))
	}
}

func TestNextScanDelay(t *testing.T) {
	cfg := config.Default()
	s := New(cfg, make(chan Signal), &fakeMarket{}, notification.NewManager(zerolog.Nop()), zerolog.Nop())

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"mid hour", base.Add(30 * time.Minute), 30*time.Minute + boundaryGrace},
		{"just past boundary", base.Add(boundaryGrace), time.Hour},
		{"hour about to close", base.Add(59*time.Minute + 59*time.Second), cfg.ScanIntervalFloor()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.nextScanDelay(tt.now); got != tt.want {
				t.Errorf("delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s := newTestScanner(t, &fakeMarket{}, make(chan Signal, 1))
	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
