// Package config materialises runtime settings from defaults, an
// optional JSON file and environment overrides, in that order.
// Secrets only ever come from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the bot recognises. JSON keys are the
// stable external names; environment overrides use the same names
// uppercased.
type Config struct {
	// Exchange session
	Testnet    bool   `json:"testnet"`     // use the futures testnet endpoints
	MarginType string `json:"margin_type"` // CROSSED or ISOLATED, applied before entry

	// Position sizing and risk
	Leverage            int     `json:"leverage"`               // leverage set per-symbol before entry
	MaxPositions        int     `json:"max_positions"`          // cap on concurrent tracked positions
	MarginMode          string  `json:"margin_mode"`            // fixed or percent
	LiveFixedMarginUSDT float64 `json:"live_fixed_margin_usdt"` // per-entry margin when mode=fixed
	MarginPct           float64 `json:"margin_pct"`             // percent of free balance when mode=percent
	DailyLossLimitUSDT  float64 `json:"daily_loss_limit_usdt"`  // 0 disables the daily-loss gate
	MaxEntriesPerDay    int     `json:"max_entries_per_day"`    // 0 disables the per-day entry cap
	AutoTrade           bool    `json:"auto_trade"`             // master switch for new entries

	// Bracket percentages
	StopLossPct float64 `json:"stop_loss_pct"` // SL distance from entry
	StrongTPPct float64 `json:"strong_tp_pct"` // TP ladder, strongest first
	MediumTPPct float64 `json:"medium_tp_pct"`
	WeakTPPct   float64 `json:"weak_tp_pct"`
	MaxHoldHrs  float64 `json:"max_hold_hours"` // force-close horizon

	// Strength evaluation checkpoints
	StrengthEval2hGrowth  float64 `json:"strength_eval_2h_growth"`  // per-bar drop[%] counted at 2h
	StrengthEval2hRatio   float64 `json:"strength_eval_2h_ratio"`   // bar share needed for strong at 2h
	StrengthEval12hGrowth float64 `json:"strength_eval_12h_growth"` // per-bar drop[%] counted at 12h
	StrengthEval12hRatio  float64 `json:"strength_eval_12h_ratio"`  // bar share needed for strong at 12h

	// Scanner
	SurgeThreshold      float64 `json:"surge_threshold"`         // minimum accepted sell-volume ratio
	SurgeMaxMultiple    float64 `json:"surge_max_multiple"`      // ratios above this are discarded as anomalies
	ScanIntervalSeconds int     `json:"scan_interval_seconds"`   // floor between scan rounds
	ScannerConcurrency  int     `json:"scanner_concurrency"`     // parallel per-symbol fetches
	EnableRiskFilters   bool    `json:"enable_risk_filters"`     // entry filter master switch
	EntryBatchDelaySecs int     `json:"entry_batch_delay_seconds"` // pending-pool accumulation window

	// Monitor
	MonitorIntervalSeconds int `json:"monitor_interval_seconds"` // poll cadence

	// Housekeeping
	DBPath            string `json:"db_path"`
	PnlSummaryHourUTC int    `json:"pnl_summary_hour_utc"` // daily digest hour
	MemoryLimitMB     int    `json:"memory_limit_mb"`      // 0 disables the watchdog
	LogLevel          string `json:"log_level"`

	// Secrets, environment only
	BinanceAPIKey    string `json:"-"`
	BinanceAPISecret string `json:"-"`
	TelegramBotToken string `json:"-"`
	TelegramChatID   int64  `json:"-"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	return &Config{
		Testnet:    false,
		MarginType: "CROSSED",

		Leverage:            5,
		MaxPositions:        3,
		MarginMode:          "fixed",
		LiveFixedMarginUSDT: 50,
		MarginPct:           5,
		DailyLossLimitUSDT:  0,
		MaxEntriesPerDay:    0,
		AutoTrade:           true,

		StopLossPct: 5.0,
		StrongTPPct: 3.5,
		MediumTPPct: 2.0,
		WeakTPPct:   1.0,
		MaxHoldHrs:  24,

		StrengthEval2hGrowth:  0.5,
		StrengthEval2hRatio:   0.6,
		StrengthEval12hGrowth: 1.0,
		StrengthEval12hRatio:  0.5,

		SurgeThreshold:      10,
		SurgeMaxMultiple:    80,
		ScanIntervalSeconds: 60,
		ScannerConcurrency:  3,
		EnableRiskFilters:   true,
		EntryBatchDelaySecs: 10,

		MonitorIntervalSeconds: 60,

		DBPath:            "data/surgebot.db",
		PnlSummaryHourUTC: 0,
		MemoryLimitMB:     0,
		LogLevel:          "info",
	}
}

// Load builds the effective configuration. A missing file is fine; a
// malformed one is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults + env only
		default:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.loadSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Testnet = getEnvBoolOrDefault("TESTNET", c.Testnet)
	c.MarginType = getEnvOrDefault("MARGIN_TYPE", c.MarginType)

	c.Leverage = getEnvIntOrDefault("LEVERAGE", c.Leverage)
	c.MaxPositions = getEnvIntOrDefault("MAX_POSITIONS", c.MaxPositions)
	c.MarginMode = getEnvOrDefault("MARGIN_MODE", c.MarginMode)
	c.LiveFixedMarginUSDT = getEnvFloatOrDefault("LIVE_FIXED_MARGIN_USDT", c.LiveFixedMarginUSDT)
	c.MarginPct = getEnvFloatOrDefault("MARGIN_PCT", c.MarginPct)
	c.DailyLossLimitUSDT = getEnvFloatOrDefault("DAILY_LOSS_LIMIT_USDT", c.DailyLossLimitUSDT)
	c.MaxEntriesPerDay = getEnvIntOrDefault("MAX_ENTRIES_PER_DAY", c.MaxEntriesPerDay)
	c.AutoTrade = getEnvBoolOrDefault("AUTO_TRADE", c.AutoTrade)

	c.StopLossPct = getEnvFloatOrDefault("STOP_LOSS_PCT", c.StopLossPct)
	c.StrongTPPct = getEnvFloatOrDefault("STRONG_TP_PCT", c.StrongTPPct)
	c.MediumTPPct = getEnvFloatOrDefault("MEDIUM_TP_PCT", c.MediumTPPct)
	c.WeakTPPct = getEnvFloatOrDefault("WEAK_TP_PCT", c.WeakTPPct)
	c.MaxHoldHrs = getEnvFloatOrDefault("MAX_HOLD_HOURS", c.MaxHoldHrs)

	c.StrengthEval2hGrowth = getEnvFloatOrDefault("STRENGTH_EVAL_2H_GROWTH", c.StrengthEval2hGrowth)
	c.StrengthEval2hRatio = getEnvFloatOrDefault("STRENGTH_EVAL_2H_RATIO", c.StrengthEval2hRatio)
	c.StrengthEval12hGrowth = getEnvFloatOrDefault("STRENGTH_EVAL_12H_GROWTH", c.StrengthEval12hGrowth)
	c.StrengthEval12hRatio = getEnvFloatOrDefault("STRENGTH_EVAL_12H_RATIO", c.StrengthEval12hRatio)

	c.SurgeThreshold = getEnvFloatOrDefault("SURGE_THRESHOLD", c.SurgeThreshold)
	c.SurgeMaxMultiple = getEnvFloatOrDefault("SURGE_MAX_MULTIPLE", c.SurgeMaxMultiple)
	c.ScanIntervalSeconds = getEnvIntOrDefault("SCAN_INTERVAL_SECONDS", c.ScanIntervalSeconds)
	c.ScannerConcurrency = getEnvIntOrDefault("SCANNER_CONCURRENCY", c.ScannerConcurrency)
	c.EnableRiskFilters = getEnvBoolOrDefault("ENABLE_RISK_FILTERS", c.EnableRiskFilters)
	c.EntryBatchDelaySecs = getEnvIntOrDefault("ENTRY_BATCH_DELAY_SECONDS", c.EntryBatchDelaySecs)

	c.MonitorIntervalSeconds = getEnvIntOrDefault("MONITOR_INTERVAL_SECONDS", c.MonitorIntervalSeconds)

	c.DBPath = getEnvOrDefault("DB_PATH", c.DBPath)
	c.PnlSummaryHourUTC = getEnvIntOrDefault("PNL_SUMMARY_HOUR_UTC", c.PnlSummaryHourUTC)
	c.MemoryLimitMB = getEnvIntOrDefault("MEMORY_LIMIT_MB", c.MemoryLimitMB)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
}

func (c *Config) loadSecrets() {
	c.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	c.BinanceAPISecret = os.Getenv("BINANCE_API_SECRET")
	c.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.TelegramChatID = id
		}
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Leverage < 1 || c.Leverage > 125 {
		return fmt.Errorf("leverage %d out of range 1..125", c.Leverage)
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("max_positions %d must be at least 1", c.MaxPositions)
	}
	if c.MarginMode != "fixed" && c.MarginMode != "percent" {
		return fmt.Errorf("margin_mode %q must be fixed or percent", c.MarginMode)
	}
	if c.MarginMode == "fixed" && c.LiveFixedMarginUSDT <= 0 {
		return fmt.Errorf("live_fixed_margin_usdt %.2f must be positive in fixed mode", c.LiveFixedMarginUSDT)
	}
	if c.MarginMode == "percent" && (c.MarginPct <= 0 || c.MarginPct > 100) {
		return fmt.Errorf("margin_pct %.2f out of range (0,100]", c.MarginPct)
	}
	if c.MarginType != "CROSSED" && c.MarginType != "ISOLATED" {
		return fmt.Errorf("margin_type %q must be CROSSED or ISOLATED", c.MarginType)
	}
	if c.MaxEntriesPerDay < 0 {
		return fmt.Errorf("max_entries_per_day %d must not be negative", c.MaxEntriesPerDay)
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("stop_loss_pct %.2f must be positive", c.StopLossPct)
	}
	if c.StrongTPPct <= 0 || c.MediumTPPct <= 0 || c.WeakTPPct <= 0 {
		return fmt.Errorf("tp percentages must all be positive")
	}
	if c.SurgeThreshold <= 1 {
		return fmt.Errorf("surge_threshold %.2f must exceed 1", c.SurgeThreshold)
	}
	if c.SurgeMaxMultiple <= c.SurgeThreshold {
		return fmt.Errorf("surge_max_multiple %.2f must exceed surge_threshold %.2f", c.SurgeMaxMultiple, c.SurgeThreshold)
	}
	if c.ScannerConcurrency < 1 {
		return fmt.Errorf("scanner_concurrency %d must be at least 1", c.ScannerConcurrency)
	}
	if c.MonitorIntervalSeconds < 5 {
		return fmt.Errorf("monitor_interval_seconds %d must be at least 5", c.MonitorIntervalSeconds)
	}
	if c.PnlSummaryHourUTC < 0 || c.PnlSummaryHourUTC > 23 {
		return fmt.Errorf("pnl_summary_hour_utc %d out of range 0..23", c.PnlSummaryHourUTC)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	return nil
}

// MonitorInterval is the poll cadence as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

// EntryBatchDelay is the pending-pool accumulation window.
func (c *Config) EntryBatchDelay() time.Duration {
	return time.Duration(c.EntryBatchDelaySecs) * time.Second
}

// ScanIntervalFloor is the minimum gap between scan rounds.
func (c *Config) ScanIntervalFloor() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// MaxHold is the force-close horizon as a duration.
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.MaxHoldHrs * float64(time.Hour))
}

// ==================== ENV HELPERS ====================

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
