package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidateForRebalance(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "rebalance"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate in rebalance mode: %v", err)
	}
}

func TestValidateRequiresOracleKeyForLag(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "lag"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing oracle api key")
	}
	cfg.Oracle.ApiKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "turbo" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero batch", func(c *Config) { c.Feed.SubscribeBatch = 0 }},
		{"backoff inverted", func(c *Config) { c.Feed.ReconnectMax = duration{time.Millisecond} }},
		{"price threshold", func(c *Config) { c.Anomaly.PriceThreshold = 1.5 }},
		{"bid above ask", func(c *Config) { c.Anomaly.MinBid = 0.99 }},
		{"strong above sum", func(c *Config) { c.Rebalance.StrongThreshold = 1.5 }},
		{"no offsets", func(c *Config) { c.Capture.Offsets = nil }},
		{"zero actionable gap", func(c *Config) { c.Capture.ActionableGap = 0 }},
		{"bad hour", func(c *Config) { c.Lag.ActiveStartHour = 24 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = "rebalance"
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "rebalance"

[anomaly]
price_threshold = 0.07
window = "10m"

[rebalance]
min_depth_usd = 250.0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("POLYWATCH_REBALANCE_MIN_DEPTH_USD", "500")
	t.Setenv("POLYWATCH_ANOMALY_ESCALATION_COOLDOWN", "45m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Anomaly.PriceThreshold != 0.07 {
		t.Errorf("price threshold = %v, want 0.07", cfg.Anomaly.PriceThreshold)
	}
	if cfg.Anomaly.Window.Duration != 10*time.Minute {
		t.Errorf("window = %v, want 10m", cfg.Anomaly.Window.Duration)
	}
	if cfg.Rebalance.MinDepthUSD != 500 {
		t.Errorf("min depth = %v, want env override 500", cfg.Rebalance.MinDepthUSD)
	}
	if cfg.Anomaly.EscalationCooldown.Duration != 45*time.Minute {
		t.Errorf("cooldown = %v, want 45m", cfg.Anomaly.EscalationCooldown.Duration)
	}
	// Untouched fields keep defaults.
	if cfg.Feed.SubscribeBatch != 500 {
		t.Errorf("subscribe batch = %d, want default 500", cfg.Feed.SubscribeBatch)
	}
}

func TestCaptureOffsets(t *testing.T) {
	cfg := Defaults()
	got := cfg.CaptureOffsets()
	want := []time.Duration{3 * time.Second, 10 * time.Second, 30 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("offsets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("offset[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
