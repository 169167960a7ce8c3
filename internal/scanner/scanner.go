// Package scanner detects hourly sell-volume surges across all USDT
// perpetuals and feeds them to the entry pipeline.
package scanner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/notification"
)

// symbolSpacing is the pause between consecutive symbol fetches on one
// worker, keeping the scan comfortably below the request-weight budget.
const symbolSpacing = 50 * time.Millisecond

// boundaryGrace delays each scan past the UTC hour boundary so the
// exchange has finalised the just-closed 1h bar.
const boundaryGrace = 5 * time.Second

// Signal is one surge detection. Price is the close of the surge bar and
// becomes the entry reference price downstream.
type Signal struct {
	Symbol        string
	SignalTime    time.Time // open time of the surge hour bar
	Ratio         float64
	Price         decimal.Decimal
	AvgHourlySell decimal.Decimal
	HourlySell    decimal.Decimal
}

// ScanResult summarises one completed scan round.
type ScanResult struct {
	Started time.Time
	Took    time.Duration
	Scanned int
	Signals int
	Errors  int
}

type dailyAverage struct {
	avg decimal.Decimal
	ok  bool
}

// Scanner wakes at every UTC hour boundary, compares each symbol's
// just-closed hourly sell volume against yesterday's hourly average and
// emits at most one Signal per symbol per UTC day.
type Scanner struct {
	client binance.Exchange
	cfg    *config.Config
	out    chan<- Signal
	notify *notification.Manager
	log    zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	day      string
	symbols  []string
	averages map[string]dailyAverage
	emitted  map[string]struct{}
	cooldown map[string]struct{}

	resMu      sync.RWMutex
	lastResult *ScanResult
}

// New creates a scanner that writes detections to out.
func New(cfg *config.Config, out chan<- Signal, client binance.Exchange, notify *notification.Manager, logger zerolog.Logger) *Scanner {
	return &Scanner{
		client:   client,
		cfg:      cfg,
		out:      out,
		notify:   notify,
		log:      logger.With().Str("component", "scanner").Logger(),
		stopChan: make(chan struct{}),
		averages: make(map[string]dailyAverage),
		emitted:  make(map[string]struct{}),
		cooldown: make(map[string]struct{}),
	}
}

// Start begins the background scan loop. The first scan waits for the
// next hour boundary; the scanner never scans on arbitrary ticks.
func (s *Scanner) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info().Msg("surge scanner started")
}

// Stop terminates the scan loop and waits for in-flight work.
func (s *Scanner) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.log.Info().Msg("surge scanner stopped")
}

// MarkStopLoss blocks the symbol from re-signalling until the next UTC
// day. Invoked by the position monitor whenever a stop-loss triggers.
func (s *Scanner) MarkStopLoss(symbol string) {
	key := dayKey(symbol, time.Now().UTC())
	s.mu.Lock()
	s.cooldown[key] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("symbol", symbol).Str("key", key).Msg("stop-loss cooldown set until next UTC day")
}

// LastResult returns the most recent scan summary, or nil before the
// first round completes.
func (s *Scanner) LastResult() *ScanResult {
	s.resMu.RLock()
	defer s.resMu.RUnlock()
	return s.lastResult
}

func (s *Scanner) run() {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scanner loop panicked, restarting")
			time.Sleep(5 * time.Second)
			select {
			case <-s.stopChan:
				return
			default:
			}
			s.wg.Add(1)
			go s.run()
		}
	}()

	for {
		delay := s.nextScanDelay(time.Now().UTC())
		select {
		case <-s.stopChan:
			return
		case <-time.After(delay):
			s.scan(time.Now().UTC())
		}
	}
}

// nextScanDelay sleeps until the next UTC hour boundary plus grace,
// never less than the configured floor between rounds.
func (s *Scanner) nextScanDelay(now time.Time) time.Duration {
	boundary := now.Truncate(time.Hour).Add(time.Hour + boundaryGrace)
	delay := boundary.Sub(now)
	if floor := s.cfg.ScanIntervalFloor(); delay < floor {
		delay = floor
	}
	return delay
}

// scan runs one round against every tradable symbol using a small worker
// pool. Per-symbol failures are swallowed and counted; one bad symbol
// never aborts the round.
func (s *Scanner) scan(now time.Time) {
	started := time.Now()
	s.rollDay(now)

	s.mu.Lock()
	symbols := make([]string, len(s.symbols))
	copy(symbols, s.symbols)
	s.mu.Unlock()

	if len(symbols) == 0 {
		s.log.Warn().Msg("no tradable symbols, skipping scan round")
		return
	}

	var scanned, signals, errors atomic.Int64

	symbolCh := make(chan string, len(symbols))
	for _, sym := range symbols {
		symbolCh <- sym
	}
	close(symbolCh)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.ScannerConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range symbolCh {
				emitted, err := s.checkSymbol(symbol, now)
				scanned.Add(1)
				if err != nil {
					errors.Add(1)
					s.log.Debug().Err(err).Str("symbol", symbol).Msg("symbol scan failed")
				}
				if emitted {
					signals.Add(1)
				}
				select {
				case <-s.stopChan:
					return
				case <-time.After(symbolSpacing):
				}
			}
		}()
	}
	wg.Wait()

	result := &ScanResult{
		Started: started,
		Took:    time.Since(started),
		Scanned: int(scanned.Load()),
		Signals: int(signals.Load()),
		Errors:  int(errors.Load()),
	}
	s.resMu.Lock()
	s.lastResult = result
	s.resMu.Unlock()

	s.log.Info().
		Int("scanned", result.Scanned).
		Int("signals", result.Signals).
		Int("errors", result.Errors).
		Dur("took", result.Took).
		Msg("scan round complete")
}

// rollDay refreshes the symbol list and clears per-day caches when the
// UTC date changes.
func (s *Scanner) rollDay(now time.Time) {
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if s.day == today && len(s.symbols) > 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	info, err := s.client.ExchangeInfoCached()
	if err != nil {
		s.log.Warn().Err(err).Msg("symbol list refresh failed, keeping previous list")
		return
	}
	symbols := info.TradingPerpetuals("USDT")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.day = today
	s.symbols = symbols
	s.averages = make(map[string]dailyAverage)
	pruneOtherDays(s.emitted, today)
	pruneOtherDays(s.cooldown, today)
	s.log.Info().Int("symbols", len(symbols)).Str("day", today).Msg("symbol universe refreshed")
}

// checkSymbol applies the surge rule to one symbol. Returns whether a
// signal was emitted.
func (s *Scanner) checkSymbol(symbol string, now time.Time) (bool, error) {
	key := dayKey(symbol, now)

	s.mu.Lock()
	_, dup := s.emitted[key]
	_, cooled := s.cooldown[key]
	s.mu.Unlock()
	if dup || cooled {
		return false, nil
	}

	avg, ok, err := s.hourlyAverage(symbol, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	hourStart := now.Truncate(time.Hour).Add(-time.Hour)
	bars, err := s.client.GetKlines(symbol, "1h", hourStart.UnixMilli(), 0, 1)
	if err != nil {
		return false, err
	}
	if len(bars) == 0 || bars[0].OpenTime != hourStart.UnixMilli() {
		return false, nil
	}
	hourlySell := bars[0].SellVolume()
	if hourlySell.Sign() <= 0 {
		return false, nil
	}

	ratio, _ := hourlySell.Div(avg).Float64()
	if ratio < s.cfg.SurgeThreshold || ratio > s.cfg.SurgeMaxMultiple {
		return false, nil
	}

	s.mu.Lock()
	if _, raced := s.emitted[key]; raced {
		s.mu.Unlock()
		return false, nil
	}
	s.emitted[key] = struct{}{}
	s.mu.Unlock()

	sig := Signal{
		Symbol:        symbol,
		SignalTime:    time.UnixMilli(bars[0].OpenTime).UTC(),
		Ratio:         ratio,
		Price:         bars[0].Close,
		AvgHourlySell: avg,
		HourlySell:    hourlySell,
	}

	select {
	case s.out <- sig:
	case <-s.stopChan:
		return false, nil
	}

	s.log.Info().
		Str("symbol", symbol).
		Float64("ratio", ratio).
		Str("price", sig.Price.String()).
		Time("signal_time", sig.SignalTime).
		Msg("sell-volume surge detected")
	s.notify.SignalDetected(symbol, ratio, sig.Price)
	return true, nil
}

// hourlyAverage returns yesterday's average hourly sell volume, computed
// once per symbol per UTC day. ok is false when yesterday has no bar or
// no sell volume, which also gets cached so the symbol is not refetched
// all day.
func (s *Scanner) hourlyAverage(symbol string, now time.Time) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	if entry, found := s.averages[symbol]; found {
		s.mu.Unlock()
		return entry.avg, entry.ok, nil
	}
	s.mu.Unlock()

	dayStart := now.Truncate(24 * time.Hour)
	yesterday := dayStart.Add(-24 * time.Hour)
	bars, err := s.client.GetKlines(symbol, "1d", yesterday.UnixMilli(), 0, 1)
	if err != nil {
		return decimal.Zero, false, err
	}

	entry := dailyAverage{}
	if len(bars) > 0 && bars[0].OpenTime == yesterday.UnixMilli() {
		sell := bars[0].SellVolume()
		if sell.Sign() > 0 {
			entry.avg = sell.Div(decimal.NewFromInt(24))
			entry.ok = true
		}
	}

	s.mu.Lock()
	s.averages[symbol] = entry
	s.mu.Unlock()
	return entry.avg, entry.ok, nil
}

// dayKey is the dedup/cooldown key shape symbol:YYYY-MM-DD (UTC).
func dayKey(symbol string, t time.Time) string {
	return symbol + ":" + t.UTC().Format("2006-01-02")
}

func pruneOtherDays(set map[string]struct{}, today string) {
	suffix := ":" + today
	for key := range set {
		if len(key) < len(suffix) || key[len(key)-len(suffix):] != suffix {
			delete(set, key)
		}
	}
}
