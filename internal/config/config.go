// Package config defines the top-level configuration for the polywatch
// monitor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYWATCH_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Oracle     OracleConfig     `toml:"oracle"`
	Feed       FeedConfig       `toml:"feed"`
	Anomaly    AnomalyConfig    `toml:"anomaly"`
	Rebalance  RebalanceConfig  `toml:"rebalance"`
	Lag        LagConfig        `toml:"lag"`
	Capture    CaptureConfig    `toml:"capture"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
}

// OracleConfig holds The Odds API connection parameters.
type OracleConfig struct {
	BaseURL    string   `toml:"base_url"`
	ApiKey     string   `toml:"api_key"`
	Sport      string   `toml:"sport"`
	Bookmaker  string   `toml:"bookmaker"`
	Regions    string   `toml:"regions"`
	Timeout    duration `toml:"timeout"`
	CreditWarn int      `toml:"credit_warn"`
}

// FeedConfig holds websocket feed tuning parameters.
type FeedConfig struct {
	PingInterval     duration `toml:"ping_interval"`
	PongTimeout      duration `toml:"pong_timeout"`
	ReconnectInitial duration `toml:"reconnect_initial"`
	ReconnectMax     duration `toml:"reconnect_max"`
	SubscribeBatch   int      `toml:"subscribe_batch"`
}

// AnomalyConfig holds anomaly detection thresholds.
type AnomalyConfig struct {
	PriceThreshold     float64  `toml:"price_threshold"`
	Window             duration `toml:"window"`
	Grace              duration `toml:"grace"`
	SpreadThreshold    float64  `toml:"spread_threshold"`
	YesNoDeviation     float64  `toml:"yes_no_deviation"`
	EscalationCooldown duration `toml:"escalation_cooldown"`
	MinBid             float64  `toml:"min_bid"`
	MaxAsk             float64  `toml:"max_ask"`
}

// RebalanceConfig holds multi-outcome rebalance tracking parameters.
type RebalanceConfig struct {
	SumThreshold    float64  `toml:"sum_threshold"`
	StrongThreshold float64  `toml:"strong_threshold"`
	MinDepthUSD     float64  `toml:"min_depth_usd"`
	DedupInterval   duration `toml:"dedup_interval"`
	DedupMove       float64  `toml:"dedup_move"`
	DeadAskCutoff   float64  `toml:"dead_ask_cutoff"`
	RefreshInterval duration `toml:"refresh_interval"`
	StatusInterval  duration `toml:"status_interval"`
	SeedWorkers     int      `toml:"seed_workers"`
	SportsOnly      bool     `toml:"sports_only"`
	NBAOnly         bool     `toml:"nba_only"`
	VerifyWithBook  bool     `toml:"verify_with_book"`
	AlertFile       string   `toml:"alert_file"`
}

// LagConfig holds oracle-lag monitoring parameters.
type LagConfig struct {
	LineMoveThreshold    float64  `toml:"line_move_threshold"`
	ImpliedMoveThreshold float64  `toml:"implied_move_threshold"`
	ConvergenceGap       float64  `toml:"convergence_gap"`
	LineMatchTolerance   float64  `toml:"line_match_tolerance"`
	MinTotalLine         float64  `toml:"min_total_line"`
	MaxTotalLine         float64  `toml:"max_total_line"`
	NormalInterval       duration `toml:"normal_interval"`
	TriggerInterval      duration `toml:"trigger_interval"`
	SweepInterval        duration `toml:"sweep_interval"`
	RefreshInterval      duration `toml:"refresh_interval"`
	StatusInterval       duration `toml:"status_interval"`
	ActiveStartHour      int      `toml:"active_start_hour"`
	ActiveEndHour        int      `toml:"active_end_hour"`
	Timezone             string   `toml:"timezone"`
}

// CaptureConfig holds high-resolution capture parameters.
type CaptureConfig struct {
	Offsets       []duration `toml:"offsets"`
	ActionableGap float64    `toml:"actionable_gap"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the standard default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Oracle: OracleConfig{
			BaseURL:    "https://api.the-odds-api.com/v4",
			Sport:      "basketball_nba",
			Bookmaker:  "pinnacle",
			Regions:    "us",
			Timeout:    duration{15 * time.Second},
			CreditWarn: 50,
		},
		Feed: FeedConfig{
			PingInterval:     duration{30 * time.Second},
			PongTimeout:      duration{10 * time.Second},
			ReconnectInitial: duration{1 * time.Second},
			ReconnectMax:     duration{60 * time.Second},
			SubscribeBatch:   500,
		},
		Anomaly: AnomalyConfig{
			PriceThreshold:     0.05,
			Window:             duration{5 * time.Minute},
			Grace:              duration{1 * time.Minute},
			SpreadThreshold:    0.05,
			YesNoDeviation:     0.03,
			EscalationCooldown: duration{30 * time.Minute},
			MinBid:             0.02,
			MaxAsk:             0.98,
		},
		Rebalance: RebalanceConfig{
			SumThreshold:    1.0,
			StrongThreshold: 0.995,
			MinDepthUSD:     100,
			DedupInterval:   duration{60 * time.Second},
			DedupMove:       0.005,
			DeadAskCutoff:   0.02,
			RefreshInterval: duration{10 * time.Minute},
			StatusInterval:  duration{60 * time.Second},
			SeedWorkers:     50,
			SportsOnly:      false,
			NBAOnly:         false,
			VerifyWithBook:  true,
			AlertFile:       "rebalance_alerts.jsonl",
		},
		Lag: LagConfig{
			LineMoveThreshold:    1.5,
			ImpliedMoveThreshold: 0.06,
			ConvergenceGap:       0.01,
			LineMatchTolerance:   0.5,
			MinTotalLine:         170,
			MaxTotalLine:         310,
			NormalInterval:       duration{1 * time.Hour},
			TriggerInterval:      duration{15 * time.Minute},
			SweepInterval:        duration{30 * time.Second},
			RefreshInterval:      duration{10 * time.Minute},
			StatusInterval:       duration{5 * time.Minute},
			ActiveStartHour:      10,
			ActiveEndHour:        3,
			Timezone:             "America/New_York",
		},
		Capture: CaptureConfig{
			Offsets: []duration{
				{3 * time.Second},
				{10 * time.Second},
				{30 * time.Second},
			},
			ActionableGap: 0.04,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polywatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polywatch-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "trigger", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"lag":       true,
	"rebalance": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: lag, rebalance, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}

	needsOracle := c.Mode == "lag" || c.Mode == "full"
	if needsOracle && c.Oracle.ApiKey == "" {
		errs = append(errs, "oracle: api_key is required for mode "+c.Mode)
	}
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}

	if c.Feed.SubscribeBatch < 1 {
		errs = append(errs, "feed: subscribe_batch must be >= 1")
	}
	if c.Feed.ReconnectInitial.Duration <= 0 {
		errs = append(errs, "feed: reconnect_initial must be positive")
	}
	if c.Feed.ReconnectMax.Duration < c.Feed.ReconnectInitial.Duration {
		errs = append(errs, "feed: reconnect_max must be >= reconnect_initial")
	}
	if c.Feed.PongTimeout.Duration <= 0 || c.Feed.PingInterval.Duration <= 0 {
		errs = append(errs, "feed: ping_interval and pong_timeout must be positive")
	}

	if c.Anomaly.PriceThreshold <= 0 || c.Anomaly.PriceThreshold >= 1 {
		errs = append(errs, "anomaly: price_threshold must be in (0, 1)")
	}
	if c.Anomaly.Window.Duration <= 0 {
		errs = append(errs, "anomaly: window must be positive")
	}
	if c.Anomaly.Grace.Duration < 0 {
		errs = append(errs, "anomaly: grace must not be negative")
	}
	if c.Anomaly.MinBid < 0 || c.Anomaly.MaxAsk > 1 || c.Anomaly.MinBid >= c.Anomaly.MaxAsk {
		errs = append(errs, "anomaly: min_bid/max_ask must satisfy 0 <= min_bid < max_ask <= 1")
	}

	if c.Rebalance.StrongThreshold > c.Rebalance.SumThreshold {
		errs = append(errs, "rebalance: strong_threshold must not exceed sum_threshold")
	}
	if c.Rebalance.SeedWorkers < 1 {
		errs = append(errs, "rebalance: seed_workers must be >= 1")
	}

	if c.Lag.ActiveStartHour < 0 || c.Lag.ActiveStartHour > 23 {
		errs = append(errs, "lag: active_start_hour must be 0-23")
	}
	if c.Lag.ActiveEndHour < 0 || c.Lag.ActiveEndHour > 23 {
		errs = append(errs, "lag: active_end_hour must be 0-23")
	}
	if c.Lag.MinTotalLine >= c.Lag.MaxTotalLine {
		errs = append(errs, "lag: min_total_line must be below max_total_line")
	}

	if len(c.Capture.Offsets) == 0 {
		errs = append(errs, "capture: at least one offset is required")
	}
	for i, off := range c.Capture.Offsets {
		if off.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("capture: offset %d must be positive", i))
		}
	}
	if c.Capture.ActionableGap <= 0 || c.Capture.ActionableGap >= 1 {
		errs = append(errs, "capture: actionable_gap must be between 0 and 1")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CaptureOffsets returns the configured capture offsets as plain durations.
func (c *Config) CaptureOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(c.Capture.Offsets))
	for _, d := range c.Capture.Offsets {
		out = append(out, d.Duration)
	}
	return out
}
