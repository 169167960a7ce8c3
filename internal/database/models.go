package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade event kinds recorded in live_trades. The column is free-form;
// these cover the lifecycle the monitor drives itself.
const (
	EventEntry         = "entry"
	EventTP            = "tp"
	EventSL            = "sl"
	EventTimeout       = "timeout"
	EventStrategyClose = "strategy_close"
)

// Position strength classes assigned by the evaluation checkpoints.
const (
	StrengthUnknown = "unknown"
	StrengthStrong  = "strong"
	StrengthMedium  = "medium"
	StrengthWeak    = "weak"
)

// SignalEvent is one scanner emission plus the entry pipeline's
// verdict. Append-only.
type SignalEvent struct {
	ID            string          `gorm:"primaryKey"`
	Symbol        string          `gorm:"index"`
	SignalTime    time.Time       `gorm:"index"`
	Ratio         float64
	RefPrice      decimal.Decimal `gorm:"type:decimal(18,8)"`
	AvgHourlySell decimal.Decimal `gorm:"type:decimal(24,8)"`
	HourlySell    decimal.Decimal `gorm:"type:decimal(24,8)"`
	Accepted      bool
	Reason        string
	Metrics       string // JSON-encoded diagnostics from the entry filter
	CreatedAt     time.Time
}

// LiveTrade is one lifecycle event of a live position. Append-only.
type LiveTrade struct {
	ID          string          `gorm:"primaryKey"`
	Symbol      string          `gorm:"index"`
	Side        string
	Event       string          `gorm:"index"`
	EntryPrice  decimal.Decimal `gorm:"type:decimal(18,8)"`
	ExitPrice   decimal.Decimal `gorm:"type:decimal(18,8)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(24,8)"`
	RealizedPnl decimal.Decimal `gorm:"type:decimal(18,8)"`
	OrderRef    string
	CreatedAt   time.Time `gorm:"index"`
}

// PositionState is the per-symbol checkpoint restored after a restart.
// Upserted on every strategy-driven TP adjustment, deleted on close.
type PositionState struct {
	Symbol       string `gorm:"primaryKey"`
	CurrentTPPct float64
	Strength     string
	Evaluated2h  bool
	Evaluated12h bool
	UpdatedAt    time.Time
}

// TableName keeps the historical singular table name.
func (PositionState) TableName() string { return "position_state" }
