// Package strategy defines the pluggable trading policy seam and ships
// the default surge-short implementation. A strategy owns signal
// generation, the pre-entry risk filter and the per-tick position
// review; the trader and monitor stay policy-free.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/scanner"
)

// Strength classifies how decisively a position keeps moving in its
// favour after entry. It drives the TP ladder.
type Strength string

const (
	StrengthUnknown Strength = "unknown"
	StrengthStrong  Strength = "strong"
	StrengthMedium  Strength = "medium"
	StrengthWeak    Strength = "weak"
)

// ActionType tags a PositionAction.
type ActionType string

const (
	ActionHold     ActionType = "hold"
	ActionClose    ActionType = "close"
	ActionAdjustTP ActionType = "adjust_tp"
)

// ReasonMaxHold is the close reason for positions held past the
// configured horizon; the monitor records it as a timeout event.
const ReasonMaxHold = "timeout"

// EntryDecision is the outcome of the pre-entry filter. Metrics carries
// whatever diagnostics the checks computed, accepted or not, and is
// persisted with the signal event.
type EntryDecision struct {
	Accept  bool
	Reason  string
	Side    binance.OrderSide
	TPPct   float64
	SLPct   float64
	Metrics map[string]float64
}

// PositionAction is the tagged outcome of one evaluation tick.
// Evaluated2h / Evaluated12h report that the corresponding checkpoint
// completed this tick so the monitor records it even when the action is
// hold. NewStrength is empty when the classification did not change.
type PositionAction struct {
	Action       ActionType
	Reason       string
	NewTPPct     float64
	NewStrength  Strength
	Evaluated2h  bool
	Evaluated12h bool
}

// Hold is the no-op action.
func Hold() PositionAction {
	return PositionAction{Action: ActionHold}
}

// Close requests a market force-close with the given reason.
func Close(reason string) PositionAction {
	return PositionAction{Action: ActionClose, Reason: reason}
}

// AdjustTP requests a TP replacement at the new percentage.
func AdjustTP(pct float64, strength Strength) PositionAction {
	return PositionAction{Action: ActionAdjustTP, NewTPPct: pct, NewStrength: strength}
}

// PositionView is the monitor-owned snapshot a policy reads during
// evaluation. Strategies never mutate monitor state directly; they
// request changes through the returned action.
type PositionView struct {
	Symbol        string
	Side          binance.OrderSide // entry side; SELL for shorts
	EntryPrice    decimal.Decimal
	Quantity      decimal.Decimal
	EntryFillTime time.Time
	CreatedAt     time.Time
	SignalTime    time.Time // open time of the surge bar; zero after crash recovery
	SignalRatio   float64
	CurrentTPPct  float64
	Strength      Strength
	Evaluated2h   bool
	Evaluated12h  bool
}

// Scanner is a long-lived signal source with an explicit stop. The
// trader wires MarkStopLoss to the monitor's stop-loss callback.
type Scanner interface {
	Start()
	Stop()
	MarkStopLoss(symbol string)
}

// Strategy is the policy interface, injected at construction.
type Strategy interface {
	// Name identifies the policy in logs and notifications.
	Name() string

	// NewScanner builds the signal source writing to out.
	NewScanner(cfg *config.Config, out chan<- scanner.Signal, client binance.Exchange) Scanner

	// FilterEntry runs after the infrastructure guards and before
	// sizing. entryPrice is the live ticker price; the signal carries
	// its own reference price. Internal errors must fail open.
	FilterEntry(client binance.Exchange, sig scanner.Signal, entryPrice decimal.Decimal, now time.Time) EntryDecision

	// EvaluatePosition is called once per poll tick per filled
	// position.
	EvaluatePosition(client binance.Exchange, pos PositionView, now time.Time) PositionAction
}
