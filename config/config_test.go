package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Leverage != Default().Leverage || cfg.MaxPositions != Default().MaxPositions {
		t.Errorf("missing file changed defaults: %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"leverage": 10,
		"max_positions": 5,
		"margin_mode": "percent",
		"margin_pct": 2.5,
		"surge_threshold": 15,
		"surge_max_multiple": 90,
		"db_path": "custom/surge.db"
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Leverage != 10 || cfg.MaxPositions != 5 {
		t.Errorf("file overrides missed: leverage=%d max_positions=%d", cfg.Leverage, cfg.MaxPositions)
	}
	if cfg.MarginMode != "percent" || cfg.MarginPct != 2.5 {
		t.Errorf("margin settings = %s/%.2f", cfg.MarginMode, cfg.MarginPct)
	}
	if cfg.DBPath != "custom/surge.db" {
		t.Errorf("db_path = %s", cfg.DBPath)
	}
	// Untouched keys keep defaults.
	if cfg.StopLossPct != Default().StopLossPct {
		t.Errorf("stop_loss_pct = %.2f, want default", cfg.StopLossPct)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"leverage": 10}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEVERAGE", "20")
	t.Setenv("AUTO_TRADE", "false")
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123456")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Leverage != 20 {
		t.Errorf("leverage = %d, env should win over file", cfg.Leverage)
	}
	if cfg.AutoTrade {
		t.Error("AUTO_TRADE=false not applied")
	}
	if cfg.BinanceAPIKey != "env-key" {
		t.Errorf("api key = %q", cfg.BinanceAPIKey)
	}
	if cfg.TelegramChatID != -100123456 {
		t.Errorf("chat id = %d", cfg.TelegramChatID)
	}
}

func TestSecretsNeverReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"BinanceAPIKey": "leaked", "binance_api_key": "leaked", "leverage": 3}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BINANCE_API_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BinanceAPIKey != "" {
		t.Errorf("api key picked up from file: %q", cfg.BinanceAPIKey)
	}
}

func TestValidateRejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero leverage", func(c *Config) { c.Leverage = 0 }},
		{"leverage too high", func(c *Config) { c.Leverage = 200 }},
		{"bad margin mode", func(c *Config) { c.MarginMode = "martingale" }},
		{"fixed mode without margin", func(c *Config) { c.LiveFixedMarginUSDT = 0 }},
		{"percent out of range", func(c *Config) { c.MarginMode = "percent"; c.MarginPct = 150 }},
		{"bad margin type", func(c *Config) { c.MarginType = "HYBRID" }},
		{"threshold below window", func(c *Config) { c.SurgeThreshold = 50; c.SurgeMaxMultiple = 40 }},
		{"threshold not above one", func(c *Config) { c.SurgeThreshold = 1 }},
		{"negative stop loss", func(c *Config) { c.StopLossPct = -1 }},
		{"tight monitor interval", func(c *Config) { c.MonitorIntervalSeconds = 1 }},
		{"summary hour out of range", func(c *Config) { c.PnlSummaryHourUTC = 24 }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error")
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	cfg.MonitorIntervalSeconds = 45
	cfg.EntryBatchDelaySecs = 30
	cfg.MaxHoldHrs = 1.5

	if got := cfg.MonitorInterval(); got != 45*time.Second {
		t.Errorf("MonitorInterval = %v", got)
	}
	if got := cfg.EntryBatchDelay(); got != 30*time.Second {
		t.Errorf("EntryBatchDelay = %v", got)
	}
	if got := cfg.MaxHold(); got != 90*time.Minute {
		t.Errorf("MaxHold = %v", got)
	}
}
