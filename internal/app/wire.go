package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polywatch/internal/blob/s3"
	"github.com/alanyoungcy/polywatch/internal/cache/redis"
	"github.com/alanyoungcy/polywatch/internal/config"
	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/notify"
	"github.com/alanyoungcy/polywatch/internal/store/postgres"
)

// Dependencies aggregates the shared infrastructure every mode draws from.
// Archiver and Notifier are nil unless configured.
type Dependencies struct {
	Triggers  domain.TriggerStore
	Moves     domain.MoveEventStore
	Snapshots domain.SnapshotStore
	Alerts    domain.AlertStore

	PriceCache domain.PriceCache
	SignalBus  domain.SignalBus

	Archiver domain.Archiver
	Notifier *notify.Notifier
}

// Wire constructs the shared infrastructure from the configuration: the
// PostgreSQL stores, the Redis price cache and signal bus, optional S3
// archival, and optional notification senders. The returned cleanup function
// must be called on shutdown; when Wire fails partway it tears down what it
// already opened before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, func() {}, fmt.Errorf("app: postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("app: migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	triggerStore := postgres.NewTriggerStore(pg.Pool())
	alertStore := postgres.NewAlertStore(pg.Pool())

	deps := &Dependencies{
		Triggers:  triggerStore,
		Moves:     postgres.NewHiResStore(pg.Pool()),
		Snapshots: postgres.NewSnapshotStore(pg.Pool()),
		Alerts:    alertStore,
	}

	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("app: redis: %w", err)
	}
	closers = append(closers, func() { _ = rc.Close() })

	deps.PriceCache = redis.NewPriceCache(rc)
	deps.SignalBus = redis.NewSignalBusWithMaxLen(rc, int64(cfg.Redis.StreamMaxLen))

	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("app: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3c.Close() })

		if err := s3c.Health(ctx); err != nil {
			logger.Warn("s3 health check failed, archival may not work",
				slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c), alertStore, triggerStore)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		logger.Info("notifications enabled", slog.Int("senders", len(senders)))
	}

	return deps, cleanup, nil
}
