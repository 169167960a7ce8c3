package strategy

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/notification"
	"github.com/koshedu/surge-short-bot/internal/scanner"
)

// consecutiveSurgeMultiple is the sell-volume ratio both the signal hour
// and the entry hour must reach for the 12h checkpoint to keep the
// current strength instead of downgrading to weak.
const consecutiveSurgeMultiple = 10.0

// SurgeShort is the default policy: short the hourly sell-volume surge,
// then ladder the take-profit by observed follow-through at the 2h and
// 12h checkpoints.
type SurgeShort struct {
	cfg    *config.Config
	notify *notification.Manager
	log    zerolog.Logger
}

// NewSurgeShort builds the default policy.
func NewSurgeShort(cfg *config.Config, notify *notification.Manager, logger zerolog.Logger) *SurgeShort {
	return &SurgeShort{
		cfg:    cfg,
		notify: notify,
		log:    logger.With().Str("component", "strategy").Str("policy", "surge-short").Logger(),
	}
}

var _ Strategy = (*SurgeShort)(nil)

func (s *SurgeShort) Name() string { return "surge-short" }

// NewScanner returns the hourly surge scanner.
func (s *SurgeShort) NewScanner(cfg *config.Config, out chan<- scanner.Signal, client binance.Exchange) Scanner {
	return scanner.New(cfg, out, client, s.notify, s.log)
}

// EvaluatePosition applies, in order: the max-hold horizon, the 2h
// strength checkpoint and the 12h strength checkpoint. Each checkpoint
// runs once; transient data errors leave the checkpoint pending so the
// next tick retries.
func (s *SurgeShort) EvaluatePosition(client binance.Exchange, pos PositionView, now time.Time) PositionAction {
	held := now.Sub(pos.EntryFillTime)

	if s.cfg.MaxHoldHrs > 0 && held >= s.cfg.MaxHold() {
		return Close(ReasonMaxHold)
	}

	if !pos.Evaluated2h && held >= 2*time.Hour {
		return s.checkpoint2h(client, pos)
	}
	if !pos.Evaluated12h && held >= 12*time.Hour {
		return s.checkpoint12h(client, pos, now)
	}
	return Hold()
}

// checkpoint2h classifies strong or medium from the first two hours of
// 5-minute follow-through. An empty window falls back to medium.
func (s *SurgeShort) checkpoint2h(client binance.Exchange, pos PositionView) PositionAction {
	ratio, ok, err := s.dropRatio(client, pos, 2*time.Hour, s.cfg.StrengthEval2hGrowth)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("2h checkpoint data fetch failed, retrying next tick")
		return Hold()
	}

	strength := StrengthMedium
	if ok && ratio >= s.cfg.StrengthEval2hRatio {
		strength = StrengthStrong
	}
	if !ok {
		s.log.Warn().Str("symbol", pos.Symbol).Msg("2h checkpoint window empty, falling back to medium")
	}

	s.log.Info().
		Str("symbol", pos.Symbol).
		Float64("drop_ratio", ratio).
		Str("strength", string(strength)).
		Msg("2h strength checkpoint")

	act := s.retarget(pos, strength)
	act.Evaluated2h = true
	return act
}

// checkpoint12h re-classifies from twelve hours of follow-through. A
// position that stopped falling is downgraded to weak unless both the
// signal hour and the entry hour were extreme surges, which marks a
// multi-hour distribution still in progress.
func (s *SurgeShort) checkpoint12h(client binance.Exchange, pos PositionView, now time.Time) PositionAction {
	ratio, ok, err := s.dropRatio(client, pos, 12*time.Hour, s.cfg.StrengthEval12hGrowth)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("12h checkpoint data fetch failed, retrying next tick")
		return Hold()
	}

	if ok && ratio >= s.cfg.StrengthEval12hRatio {
		s.log.Info().Str("symbol", pos.Symbol).Float64("drop_ratio", ratio).Msg("12h strength checkpoint: strong")
		act := s.retarget(pos, StrengthStrong)
		act.Evaluated12h = true
		return act
	}

	protected, err := s.consecutiveSurge(client, pos)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("consecutive-surge recheck failed, retrying next tick")
		return Hold()
	}
	if protected {
		s.log.Info().Str("symbol", pos.Symbol).Float64("drop_ratio", ratio).
			Msg("12h strength checkpoint: consecutive surge confirmed, keeping strength")
		act := Hold()
		act.Evaluated12h = true
		return act
	}

	s.log.Info().Str("symbol", pos.Symbol).Float64("drop_ratio", ratio).Msg("12h strength checkpoint: weak")
	act := s.retarget(pos, StrengthWeak)
	act.Evaluated12h = true
	return act
}

// retarget emits adjust_tp when the strength's TP percentage differs
// from the one currently armed, hold otherwise.
func (s *SurgeShort) retarget(pos PositionView, strength Strength) PositionAction {
	newPct := s.tpPctFor(strength)
	if newPct != pos.CurrentTPPct {
		return AdjustTP(newPct, strength)
	}
	act := Hold()
	act.NewStrength = strength
	return act
}

func (s *SurgeShort) tpPctFor(strength Strength) float64 {
	switch strength {
	case StrengthStrong:
		return s.cfg.StrongTPPct
	case StrengthWeak:
		return s.cfg.WeakTPPct
	default:
		return s.cfg.MediumTPPct
	}
}

// dropRatio is the share of 5-minute bars between fill time and fill +
// window whose close moved at least growthPct in the position's favour.
// ok is false when the window has no bars.
func (s *SurgeShort) dropRatio(client binance.Exchange, pos PositionView, window time.Duration, growthPct float64) (float64, bool, error) {
	if pos.EntryPrice.Sign() <= 0 {
		return 0, false, nil
	}
	start := pos.EntryFillTime
	bars, err := client.GetKlines(pos.Symbol, "5m", start.UnixMilli(), start.Add(window).UnixMilli(), 0)
	if err != nil {
		return 0, false, err
	}
	if len(bars) == 0 {
		return 0, false, nil
	}

	growth := decimal.NewFromFloat(growthPct)
	hundred := decimal.NewFromInt(100)
	count := 0
	for _, bar := range bars {
		var movePct decimal.Decimal
		if pos.Side == binance.SideSell {
			movePct = pos.EntryPrice.Sub(bar.Close).Div(pos.EntryPrice).Mul(hundred)
		} else {
			movePct = bar.Close.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(hundred)
		}
		if movePct.GreaterThan(growth) {
			count++
		}
	}
	return float64(count) / float64(len(bars)), true, nil
}

// consecutiveSurge re-runs the sell-surge check for the signal hour and
// the entry hour against the hourly average of the day before each
// hour. Both must reach consecutiveSurgeMultiple.
func (s *SurgeShort) consecutiveSurge(client binance.Exchange, pos PositionView) (bool, error) {
	if pos.SignalTime.IsZero() || pos.EntryFillTime.IsZero() {
		return false, nil
	}
	signalRatio, err := s.hourSurgeRatio(client, pos.Symbol, pos.SignalTime)
	if err != nil {
		return false, err
	}
	if signalRatio < consecutiveSurgeMultiple {
		return false, nil
	}
	entryRatio, err := s.hourSurgeRatio(client, pos.Symbol, pos.EntryFillTime)
	if err != nil {
		return false, err
	}
	return entryRatio >= consecutiveSurgeMultiple, nil
}

// hourSurgeRatio is the sell volume of the hour containing at, divided
// by the average hourly sell volume of the preceding UTC day. Missing
// bars yield zero.
func (s *SurgeShort) hourSurgeRatio(client binance.Exchange, symbol string, at time.Time) (float64, error) {
	hour := at.UTC().Truncate(time.Hour)
	day := hour.Truncate(24 * time.Hour)
	yesterday := day.Add(-24 * time.Hour)

	daily, err := client.GetKlines(symbol, "1d", yesterday.UnixMilli(), 0, 1)
	if err != nil {
		return 0, err
	}
	if len(daily) == 0 || daily[0].OpenTime != yesterday.UnixMilli() {
		return 0, nil
	}
	avgSell := daily[0].SellVolume().Div(decimal.NewFromInt(24))
	if avgSell.Sign() <= 0 {
		return 0, nil
	}

	bars, err := client.GetKlines(symbol, "1h", hour.UnixMilli(), 0, 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 || bars[0].OpenTime != hour.UnixMilli() {
		return 0, nil
	}
	ratio, _ := bars[0].SellVolume().Div(avgSell).Float64()
	return ratio, nil
}
