package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polywatch/internal/capture"
	"github.com/alanyoungcy/polywatch/internal/monitor"
	"github.com/alanyoungcy/polywatch/internal/notify"
	"github.com/alanyoungcy/polywatch/internal/platform/oddsapi"
	"github.com/alanyoungcy/polywatch/internal/platform/polymarket"
	"github.com/alanyoungcy/polywatch/internal/strategy"
)

// LagMode runs the oracle lag monitor against a dedicated websocket feed.
func (a *App) LagMode(ctx context.Context, deps *Dependencies) error {
	feed := a.newFeed()
	lag, err := a.buildLagMonitor(deps, feed)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return lag.Run(gctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(gctx, deps) })
	}
	return g.Wait()
}

// RebalanceMode runs the multi-outcome rebalance monitor against a dedicated
// websocket feed.
func (a *App) RebalanceMode(ctx context.Context, deps *Dependencies) error {
	feed := a.newFeed()
	reb := a.buildRebalanceMonitor(deps, feed)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return reb.Run(gctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(gctx, deps) })
	}
	return g.Wait()
}

// FullMode runs both monitors over a single shared websocket feed. Each
// monitor subscribes its own token set; the feed multiplexes them on one
// connection.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	feed := a.newFeed()
	lag, err := a.buildLagMonitor(deps, feed)
	if err != nil {
		return err
	}
	reb := a.buildRebalanceMonitor(deps, feed)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return lag.Run(gctx) })
	g.Go(func() error { return reb.Run(gctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(gctx, deps) })
	}
	return g.Wait()
}

// newFeed constructs the market data websocket client from the feed config.
func (a *App) newFeed() *polymarket.FeedClient {
	return polymarket.NewFeedClient(polymarket.FeedConfig{
		URL:              a.cfg.Polymarket.WsHost,
		PingInterval:     a.cfg.Feed.PingInterval.Duration,
		PongTimeout:      a.cfg.Feed.PongTimeout.Duration,
		ReconnectInitial: a.cfg.Feed.ReconnectInitial.Duration,
		ReconnectMax:     a.cfg.Feed.ReconnectMax.Duration,
		SubscribeBatch:   a.cfg.Feed.SubscribeBatch,
	}, a.base)
}

// buildLagMonitor assembles the lag monitor with its oracle client, market
// resolver, anomaly detector, and capture scheduler.
func (a *App) buildLagMonitor(deps *Dependencies, feed monitor.PriceFeed) (*monitor.LagMonitor, error) {
	cfg := a.cfg

	hours, err := monitor.NewActiveHours(cfg.Lag.ActiveStartHour, cfg.Lag.ActiveEndHour, cfg.Lag.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: active hours: %w", err)
	}

	oracle := oddsapi.New(oddsapi.Config{
		BaseURL:   cfg.Oracle.BaseURL,
		ApiKey:    cfg.Oracle.ApiKey,
		Sport:     cfg.Oracle.Sport,
		Bookmaker: cfg.Oracle.Bookmaker,
		Regions:   cfg.Oracle.Regions,
		Timeout:   cfg.Oracle.Timeout.Duration,
	})
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	detector := strategy.NewDetector(strategy.DetectorConfig{
		PriceThreshold:     cfg.Anomaly.PriceThreshold,
		PriceWindow:        cfg.Anomaly.Window.Duration,
		WindowGrace:        cfg.Anomaly.Grace.Duration,
		SpreadThreshold:    cfg.Anomaly.SpreadThreshold,
		YesNoThreshold:     cfg.Anomaly.YesNoDeviation,
		EscalationCooldown: cfg.Anomaly.EscalationCooldown.Duration,
		MinBid:             cfg.Anomaly.MinBid,
		MaxAsk:             cfg.Anomaly.MaxAsk,
	}, a.base)
	scheduler := capture.NewScheduler(deps.Moves, cfg.CaptureOffsets(), a.base)
	scheduler.SetActionableGap(cfg.Capture.ActionableGap)

	lag := monitor.NewLagMonitor(monitor.LagOptions{
		LineMoveThreshold:    cfg.Lag.LineMoveThreshold,
		ImpliedMoveThreshold: cfg.Lag.ImpliedMoveThreshold,
		ConvergenceGap:       cfg.Lag.ConvergenceGap,
		LineMatchTolerance:   cfg.Lag.LineMatchTolerance,
		MinTotalLine:         cfg.Lag.MinTotalLine,
		MaxTotalLine:         cfg.Lag.MaxTotalLine,
		NormalInterval:       cfg.Lag.NormalInterval.Duration,
		TriggerInterval:      cfg.Lag.TriggerInterval.Duration,
		SweepInterval:        cfg.Lag.SweepInterval.Duration,
		RefreshInterval:      cfg.Lag.RefreshInterval.Duration,
		StatusInterval:       cfg.Lag.StatusInterval.Duration,
		Bookmaker:            cfg.Oracle.Bookmaker,
		CreditWarn:           cfg.Oracle.CreditWarn,
	}, hours, oracle, gamma, feed, detector, scheduler, deps.Triggers, deps.Snapshots, a.base)

	if deps.SignalBus != nil {
		lag.SetSignalBus(deps.SignalBus)
	}
	if deps.Notifier != nil {
		lag.SetNotifier(deps.Notifier)
	}
	if deps.PriceCache != nil {
		lag.SetPriceCache(deps.PriceCache)
	}
	return lag, nil
}

// buildRebalanceMonitor assembles the rebalance monitor with the Gamma event
// source, CLOB quote source, and sum tracker.
func (a *App) buildRebalanceMonitor(deps *Dependencies, feed monitor.PriceFeed) *monitor.RebalanceMonitor {
	cfg := a.cfg

	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost)

	tracker := strategy.NewTracker(strategy.TrackerConfig{
		SumThreshold:    cfg.Rebalance.SumThreshold,
		StrongThreshold: cfg.Rebalance.StrongThreshold,
		MinDepthUSD:     cfg.Rebalance.MinDepthUSD,
		DedupInterval:   cfg.Rebalance.DedupInterval.Duration,
		DedupSumMove:    cfg.Rebalance.DedupMove,
		DeadAskCutoff:   cfg.Rebalance.DeadAskCutoff,
	}, a.base)

	reb := monitor.NewRebalanceMonitor(monitor.RebalanceOptions{
		RefreshInterval: cfg.Rebalance.RefreshInterval.Duration,
		StatusInterval:  cfg.Rebalance.StatusInterval.Duration,
		SeedWorkers:     cfg.Rebalance.SeedWorkers,
		MinDepthUSD:     cfg.Rebalance.MinDepthUSD,
		SportsOnly:      cfg.Rebalance.SportsOnly,
		NBAOnly:         cfg.Rebalance.NBAOnly,
		VerifyWithBook:  cfg.Rebalance.VerifyWithBook,
	}, gamma, clob, feed, tracker, a.base)

	if cfg.Rebalance.AlertFile != "" {
		reb.SetAlertFile(monitor.NewAlertWriter(cfg.Rebalance.AlertFile))
	}
	reb.SetAlertStore(deps.Alerts)
	if deps.SignalBus != nil {
		reb.SetSignalBus(deps.SignalBus)
	}
	if deps.Notifier != nil {
		reb.SetNotifier(deps.Notifier)
	}
	if deps.PriceCache != nil {
		reb.SetPriceCache(deps.PriceCache)
	}
	return reb
}

// archiveLoop periodically moves aged alerts and closed triggers to object
// storage. Archive errors are logged, reported through the notifier when one
// is configured, and the loop keeps running.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			alerts, err := deps.Archiver.ArchiveAlerts(ctx, cutoff)
			if err != nil {
				a.logger.Error("alert archive failed", slog.Any("error", err))
				a.notifyError(ctx, deps, "Alert archive failed", err)
			}
			triggers, err := deps.Archiver.ArchiveTriggers(ctx, cutoff)
			if err != nil {
				a.logger.Error("trigger archive failed", slog.Any("error", err))
				a.notifyError(ctx, deps, "Trigger archive failed", err)
			}
			if alerts > 0 || triggers > 0 {
				a.logger.Info("archive run complete",
					slog.Time("cutoff", cutoff),
					slog.Int64("alerts", alerts),
					slog.Int64("triggers", triggers))
			}
		}
	}
}

// notifyError pushes an operational failure to the error event channel.
func (a *App) notifyError(ctx context.Context, deps *Dependencies, title string, err error) {
	if deps.Notifier == nil {
		return
	}
	if nerr := deps.Notifier.Notify(ctx, notify.EventError, title, err.Error()); nerr != nil {
		a.logger.Error("notify failed", slog.Any("error", nerr))
	}
}
