// Package notification delivers operator-facing alerts for the events
// severe or interesting enough that a human should see them.
package notification

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notifier is one delivery channel. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(subject, message string) error
	Name() string
	IsEnabled() bool
}

// Manager fans every alert out to all enabled notifiers. Delivery
// failures are logged and the last error is returned; one broken
// channel never blocks the others.
type Manager struct {
	mu        sync.RWMutex
	notifiers []Notifier
	log       zerolog.Logger
}

// NewManager builds an empty manager; register channels before use.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		log: logger.With().Str("component", "notification").Logger(),
	}
}

// Register adds a delivery channel.
func (m *Manager) Register(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
	m.log.Info().Str("notifier", n.Name()).Bool("enabled", n.IsEnabled()).Msg("notifier registered")
}

// Send fans out one alert.
func (m *Manager) Send(subject, message string) error {
	m.mu.RLock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	m.mu.RUnlock()

	var lastErr error
	for _, n := range notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(subject, message); err != nil {
			m.log.Warn().Err(err).Str("notifier", n.Name()).Str("subject", subject).Msg("notification delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// ==================== DOMAIN HELPERS ====================

// SignalDetected announces a fresh surge signal.
func (m *Manager) SignalDetected(symbol string, ratio float64, refPrice decimal.Decimal) {
	_ = m.Send("🔎 Surge signal",
		fmt.Sprintf("%s sell volume at %.1fx the hourly average\nreference price %s", symbol, ratio, refPrice.String()))
}

// EntryPlaced announces a submitted entry order.
func (m *Manager) EntryPlaced(symbol string, quantity, price decimal.Decimal, ratio float64) {
	_ = m.Send("📉 Short entry placed",
		fmt.Sprintf("%s qty %s @ %s (surge %.1fx)", symbol, quantity.String(), price.String(), ratio))
}

// EntryFilled announces an entry fill and the armed bracket context.
func (m *Manager) EntryFilled(symbol string, quantity, price decimal.Decimal) {
	_ = m.Send("✅ Entry filled",
		fmt.Sprintf("%s qty %s @ %s", symbol, quantity.String(), price.String()))
}

// PositionClosed announces a close with its realised PnL. event is the
// lifecycle kind (tp, sl, timeout, strategy_close).
func (m *Manager) PositionClosed(symbol, event string, pnl decimal.Decimal) {
	icon := "🏁"
	switch event {
	case "tp":
		icon = "🎯"
	case "sl":
		icon = "🛑"
	}
	_ = m.Send(fmt.Sprintf("%s Position closed (%s)", icon, event),
		fmt.Sprintf("%s realized PnL %s USDT", symbol, pnl.String()))
}

// TPAdjusted announces a strategy-driven take-profit move.
func (m *Manager) TPAdjusted(symbol string, tpPct float64, strength string) {
	_ = m.Send("🎚 Take-profit adjusted",
		fmt.Sprintf("%s now targeting %.2f%% (%s)", symbol, tpPct, strength))
}

// OperatorAlert escalates a condition that needs manual attention.
func (m *Manager) OperatorAlert(symbol, subject, detail string) {
	_ = m.Send("⚠️ "+subject, fmt.Sprintf("%s: %s", symbol, detail))
}

// PositionRecovered announces a position re-adopted after a restart.
func (m *Manager) PositionRecovered(symbol string, quantity, entryPrice decimal.Decimal) {
	_ = m.Send("♻️ Position recovered",
		fmt.Sprintf("%s qty %s @ %s re-adopted after restart", symbol, quantity.String(), entryPrice.String()))
}

// OrphansCancelled reports an orphan-cleanup sweep that removed stale
// conditional orders.
func (m *Manager) OrphansCancelled(count int, symbols []string) {
	_ = m.Send("🧹 Orphan orders cancelled",
		fmt.Sprintf("%d stale algo order(s) removed on %s", count, strings.Join(symbols, ", ")))
}

// Summary delivers a periodic digest.
func (m *Manager) Summary(text string) {
	_ = m.Send("📊 Daily summary", text)
}
