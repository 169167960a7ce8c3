// Package trader is the supervisor tying the pieces together: it
// recovers state from the exchange, wires the user-data stream into
// the monitor, runs the entry pipeline that turns scanner signals into
// orders, and keeps the housekeeping loops alive.
package trader

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/database"
	"github.com/koshedu/surge-short-bot/internal/monitor"
	"github.com/koshedu/surge-short-bot/internal/notification"
	"github.com/koshedu/surge-short-bot/internal/scanner"
	"github.com/koshedu/surge-short-bot/internal/strategy"
)

// signalBuffer bounds the scanner-to-entry channel. A full scan round
// over every listed perpetual emits far fewer signals than this.
const signalBuffer = 100

// Store is the slice of persistence the trader writes through.
type Store interface {
	RecordSignalEvent(*database.SignalEvent) error
}

// EventStream is the user-data-stream surface the trader wires into
// the monitor. *binance.UserDataStream satisfies it; a nil stream
// leaves the poll loop as the only close-detection path.
type EventStream interface {
	OnOrderUpdate(func(*binance.OrderTradeUpdate))
	OnAccountUpdate(func([]binance.AccountPositionUpdate))
	Start() error
	Stop()
}

// Trader supervises the scanner, the entry worker, the position
// monitor, the stream consumer and the periodic housekeeping tasks.
type Trader struct {
	cfg     *config.Config
	client  binance.Exchange
	store   Store
	notify  *notification.Manager
	strat   strategy.Strategy
	monitor *monitor.Monitor
	stream  EventStream
	log     zerolog.Logger

	signals chan scanner.Signal
	scan    strategy.Scanner

	hedgeMode bool

	mu           sync.Mutex
	running      bool
	entriesToday int
	dayStart     time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New wires a trader. The scanner comes from the strategy so a policy
// can swap in its own detection loop; the stop-loss cooldown callback
// is connected here, before anything runs.
func New(cfg *config.Config, client binance.Exchange, store Store, notify *notification.Manager, strat strategy.Strategy, mon *monitor.Monitor, stream EventStream, logger zerolog.Logger) *Trader {
	t := &Trader{
		cfg:     cfg,
		client:  client,
		store:   store,
		notify:  notify,
		strat:   strat,
		monitor: mon,
		stream:  stream,
		log:     logger.With().Str("component", "trader").Logger(),
		signals: make(chan scanner.Signal, signalBuffer),
	}
	t.scan = strat.NewScanner(cfg, t.signals, client)
	mon.SetStopLossCallback(t.scan.MarkStopLoss)
	return t
}

// Start recovers exchange state and launches every task. It fails,
// rather than trade blind, when the exchange cannot be read during
// recovery or the position mode is unknown.
func (t *Trader) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("trader already running")
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	fail := func(err error) error {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return err
	}

	// Re-adopt whatever the last run left on the exchange before any
	// new order can go out.
	if err := t.monitor.Recover(); err != nil {
		return fail(fmt.Errorf("startup recovery: %w", err))
	}

	hedge, err := t.client.GetPositionMode()
	if err != nil {
		return fail(fmt.Errorf("position mode query: %w", err))
	}
	t.hedgeMode = hedge

	if t.stream != nil {
		t.stream.OnOrderUpdate(t.monitor.HandleOrderUpdate)
		t.stream.OnAccountUpdate(t.monitor.HandleAccountUpdate)
		if err := t.stream.Start(); err != nil {
			// The poll loop is the correctness backstop; losing the
			// stream costs latency only.
			t.log.Warn().Err(err).Msg("user-data stream failed to start, continuing on poll alone")
		}
	}

	t.scan.Start()
	t.monitor.Start()

	t.wg.Add(1)
	go t.runEntryWorker()
	t.wg.Add(1)
	go t.runPnlSummary()
	if t.cfg.MemoryLimitMB > 0 {
		t.wg.Add(1)
		go t.runMemoryWatchdog()
	}

	t.log.Info().
		Bool("hedge_mode", hedge).
		Bool("auto_trade", t.cfg.AutoTrade).
		Int("max_positions", t.cfg.MaxPositions).
		Int("leverage", t.cfg.Leverage).
		Msg("trader started")
	return nil
}

// Stop shuts the tasks down in dependency order: signal intake first,
// then the worker loops, then the stream, the monitor last so it can
// finish an in-flight cycle.
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	t.scan.Stop()
	close(t.stopChan)
	t.wg.Wait()
	if t.stream != nil {
		t.stream.Stop()
	}
	t.monitor.Stop()
	t.log.Info().Msg("trader stopped")
}

// runPnlSummary posts the realised-PnL digest once per UTC day at the
// configured hour.
func (t *Trader) runPnlSummary() {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("pnl summary loop panicked, restarting")
			time.Sleep(5 * time.Second)
			select {
			case <-t.stopChan:
				return
			default:
			}
			t.wg.Add(1)
			go t.runPnlSummary()
		}
	}()

	for {
		select {
		case <-t.stopChan:
			return
		case <-time.After(untilNextHourUTC(t.cfg.PnlSummaryHourUTC, time.Now().UTC())):
		}
		t.postPnlSummary()
	}
}

// untilNextHourUTC is the wait until the next occurrence of hour:00 UTC.
func untilNextHourUTC(hour int, now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// postPnlSummary sums the last 24h of realised PnL from the exchange's
// income history and pushes the digest to the chat channel.
func (t *Trader) postPnlSummary() {
	start := time.Now().UTC().Add(-24 * time.Hour)
	recs, err := t.client.GetIncomeHistory(binance.IncomeRealizedPnl, start.UnixMilli(), 0, 1000)
	if err != nil {
		t.log.Warn().Err(err).Msg("pnl summary income fetch failed")
		return
	}

	total := decimal.Zero
	wins, losses := 0, 0
	for _, rec := range recs {
		total = total.Add(rec.Income)
		switch {
		case rec.Income.Sign() > 0:
			wins++
		case rec.Income.Sign() < 0:
			losses++
		}
	}

	t.notify.Summary(fmt.Sprintf("Last 24h: %s USDT realised over %d close(s), %d win / %d loss. %d position(s) open.",
		total.StringFixed(2), len(recs), wins, losses, t.monitor.TrackedCount()))
	t.log.Info().
		Str("realized_pnl", total.StringFixed(2)).
		Int("closes", len(recs)).
		Msg("daily pnl summary posted")
}

// runMemoryWatchdog exits the process once the runtime's reserved
// memory crosses the configured ceiling. The external supervisor
// restarts the process and recovery rebuilds the position map, which
// is cheaper than trading on from a degraded heap.
func (t *Trader) runMemoryWatchdog() {
	defer t.wg.Done()

	limit := uint64(t.cfg.MemoryLimitMB) * 1024 * 1024
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			if ms.Sys <= limit {
				continue
			}
			t.log.Error().
				Uint64("sys_mb", ms.Sys/1024/1024).
				Int("limit_mb", t.cfg.MemoryLimitMB).
				Msg("memory ceiling exceeded, exiting for supervisor restart")
			_ = t.notify.Send("⚠️ Memory watchdog tripped",
				fmt.Sprintf("runtime holds %d MB against a %d MB ceiling, restarting", ms.Sys/1024/1024, t.cfg.MemoryLimitMB))
			os.Exit(1)
		}
	}
}
