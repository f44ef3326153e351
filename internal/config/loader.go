package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYWATCH_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYWATCH_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYWATCH_POLYMARKET_WS_HOST")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "POLYWATCH_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.ApiKey, "POLYWATCH_ORACLE_API_KEY")
	setStr(&cfg.Oracle.ApiKey, "ODDS_API_KEY") // compatibility alias
	setStr(&cfg.Oracle.Sport, "POLYWATCH_ORACLE_SPORT")
	setStr(&cfg.Oracle.Bookmaker, "POLYWATCH_ORACLE_BOOKMAKER")
	setStr(&cfg.Oracle.Regions, "POLYWATCH_ORACLE_REGIONS")
	setDuration(&cfg.Oracle.Timeout, "POLYWATCH_ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.CreditWarn, "POLYWATCH_ORACLE_CREDIT_WARN")

	// ── Feed ──
	setDuration(&cfg.Feed.PingInterval, "POLYWATCH_FEED_PING_INTERVAL")
	setDuration(&cfg.Feed.PongTimeout, "POLYWATCH_FEED_PONG_TIMEOUT")
	setDuration(&cfg.Feed.ReconnectInitial, "POLYWATCH_FEED_RECONNECT_INITIAL")
	setDuration(&cfg.Feed.ReconnectMax, "POLYWATCH_FEED_RECONNECT_MAX")
	setInt(&cfg.Feed.SubscribeBatch, "POLYWATCH_FEED_SUBSCRIBE_BATCH")

	// ── Anomaly ──
	setFloat64(&cfg.Anomaly.PriceThreshold, "POLYWATCH_ANOMALY_PRICE_THRESHOLD")
	setDuration(&cfg.Anomaly.Window, "POLYWATCH_ANOMALY_WINDOW")
	setDuration(&cfg.Anomaly.Grace, "POLYWATCH_ANOMALY_GRACE")
	setFloat64(&cfg.Anomaly.SpreadThreshold, "POLYWATCH_ANOMALY_SPREAD_THRESHOLD")
	setFloat64(&cfg.Anomaly.YesNoDeviation, "POLYWATCH_ANOMALY_YES_NO_DEVIATION")
	setDuration(&cfg.Anomaly.EscalationCooldown, "POLYWATCH_ANOMALY_ESCALATION_COOLDOWN")
	setFloat64(&cfg.Anomaly.MinBid, "POLYWATCH_ANOMALY_MIN_BID")
	setFloat64(&cfg.Anomaly.MaxAsk, "POLYWATCH_ANOMALY_MAX_ASK")

	// ── Rebalance ──
	setFloat64(&cfg.Rebalance.SumThreshold, "POLYWATCH_REBALANCE_SUM_THRESHOLD")
	setFloat64(&cfg.Rebalance.StrongThreshold, "POLYWATCH_REBALANCE_STRONG_THRESHOLD")
	setFloat64(&cfg.Rebalance.MinDepthUSD, "POLYWATCH_REBALANCE_MIN_DEPTH_USD")
	setDuration(&cfg.Rebalance.DedupInterval, "POLYWATCH_REBALANCE_DEDUP_INTERVAL")
	setFloat64(&cfg.Rebalance.DedupMove, "POLYWATCH_REBALANCE_DEDUP_MOVE")
	setFloat64(&cfg.Rebalance.DeadAskCutoff, "POLYWATCH_REBALANCE_DEAD_ASK_CUTOFF")
	setDuration(&cfg.Rebalance.RefreshInterval, "POLYWATCH_REBALANCE_REFRESH_INTERVAL")
	setDuration(&cfg.Rebalance.StatusInterval, "POLYWATCH_REBALANCE_STATUS_INTERVAL")
	setInt(&cfg.Rebalance.SeedWorkers, "POLYWATCH_REBALANCE_SEED_WORKERS")
	setBool(&cfg.Rebalance.SportsOnly, "POLYWATCH_REBALANCE_SPORTS_ONLY")
	setBool(&cfg.Rebalance.NBAOnly, "POLYWATCH_REBALANCE_NBA_ONLY")
	setBool(&cfg.Rebalance.VerifyWithBook, "POLYWATCH_REBALANCE_VERIFY_WITH_BOOK")
	setStr(&cfg.Rebalance.AlertFile, "POLYWATCH_REBALANCE_ALERT_FILE")

	// ── Lag ──
	setFloat64(&cfg.Lag.LineMoveThreshold, "POLYWATCH_LAG_LINE_MOVE_THRESHOLD")
	setFloat64(&cfg.Lag.ImpliedMoveThreshold, "POLYWATCH_LAG_IMPLIED_MOVE_THRESHOLD")
	setFloat64(&cfg.Lag.ConvergenceGap, "POLYWATCH_LAG_CONVERGENCE_GAP")
	setFloat64(&cfg.Lag.LineMatchTolerance, "POLYWATCH_LAG_LINE_MATCH_TOLERANCE")
	setFloat64(&cfg.Lag.MinTotalLine, "POLYWATCH_LAG_MIN_TOTAL_LINE")
	setFloat64(&cfg.Lag.MaxTotalLine, "POLYWATCH_LAG_MAX_TOTAL_LINE")
	setDuration(&cfg.Lag.NormalInterval, "POLYWATCH_LAG_NORMAL_INTERVAL")
	setDuration(&cfg.Lag.TriggerInterval, "POLYWATCH_LAG_TRIGGER_INTERVAL")
	setDuration(&cfg.Lag.SweepInterval, "POLYWATCH_LAG_SWEEP_INTERVAL")
	setDuration(&cfg.Lag.RefreshInterval, "POLYWATCH_LAG_REFRESH_INTERVAL")
	setDuration(&cfg.Lag.StatusInterval, "POLYWATCH_LAG_STATUS_INTERVAL")
	setInt(&cfg.Lag.ActiveStartHour, "POLYWATCH_LAG_ACTIVE_START_HOUR")
	setInt(&cfg.Lag.ActiveEndHour, "POLYWATCH_LAG_ACTIVE_END_HOUR")
	setStr(&cfg.Lag.Timezone, "POLYWATCH_LAG_TIMEZONE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYWATCH_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "POLYWATCH_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYWATCH_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYWATCH_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYWATCH_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POLYWATCH_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYWATCH_MODE")
	setStr(&cfg.LogLevel, "POLYWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
