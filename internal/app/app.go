// Package app provides the top-level application lifecycle management for the
// polywatch monitor. It wires together all dependencies (stores, caches, blob
// storage, the market data feed, and notifications) and starts the appropriate
// monitor goroutines based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	base    *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger. The logger is
// kept both bare (for constructing components that attach their own component
// attribute) and tagged for the app's own log lines.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		base:   logger,
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)
	a.logger.DebugContext(ctx, "effective configuration",
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "lag":
		return a.LagMode(ctx, deps)
	case "rebalance":
		return a.RebalanceMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
