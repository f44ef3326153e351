package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/notify"
	"github.com/alanyoungcy/polywatch/internal/platform/polymarket"
	"github.com/alanyoungcy/polywatch/internal/strategy"
)

// EventSource lists open events for discovery scans.
type EventSource interface {
	GetAllActiveEvents(ctx context.Context) ([]domain.Event, error)
}

// QuoteSource fetches REST quotes for seeding and verification.
type QuoteSource interface {
	GetBestAsk(ctx context.Context, tokenID string) (float64, error)
	GetBook(ctx context.Context, tokenID string) (domain.BookSnapshot, error)
}

// PriceFeed is the live market data surface the monitors consume.
type PriceFeed interface {
	Subscribe(assetIDs ...string) error
	Unsubscribe(assetIDs ...string) error
	OnPriceChange(h polymarket.PriceHandler)
	OnBookUpdate(h polymarket.BookHandler)
	LastPrice(assetID string) (float64, bool)
	SubscribedCount() int
}

// SignalPublisher pushes opportunities and triggers onto the message bus.
type SignalPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Bus channel and stream names.
const (
	rebalanceChannel = "polywatch:rebalance"
	rebalanceStream  = "polywatch:stream:rebalance"
	triggerChannel   = "polywatch:triggers"
	triggerStream    = "polywatch:stream:triggers"
)

// RebalanceOptions tunes the rebalance monitor loop.
type RebalanceOptions struct {
	RefreshInterval time.Duration
	StatusInterval  time.Duration
	SeedWorkers     int
	MinDepthUSD     float64
	SportsOnly      bool
	NBAOnly         bool
	VerifyWithBook  bool
}

func (o *RebalanceOptions) applyDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 10 * time.Minute
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = time.Minute
	}
	if o.SeedWorkers <= 0 {
		o.SeedWorkers = 50
	}
	if o.MinDepthUSD <= 0 {
		o.MinDepthUSD = 100
	}
}

// RebalanceMonitor discovers multi-outcome events, seeds the tracker with
// REST quotes, keeps it fed from the live websocket, and verifies fired
// opportunities against the full CLOB book before alerting.
type RebalanceMonitor struct {
	opts    RebalanceOptions
	events  EventSource
	quotes  QuoteSource
	feed    PriceFeed
	tracker *strategy.Tracker
	logger  *slog.Logger

	// Optional sinks; any of them may be nil.
	alertFile *AlertWriter
	alerts    domain.AlertStore
	bus       SignalPublisher
	notifier  *notify.Notifier
	prices    domain.PriceCache

	mu         sync.Mutex
	subscribed map[string]struct{}
}

// NewRebalanceMonitor wires the monitor. The tracker's opportunity handler is
// registered here; callers must not register their own duplicate sink.
func NewRebalanceMonitor(
	opts RebalanceOptions,
	events EventSource,
	quotes QuoteSource,
	feed PriceFeed,
	tracker *strategy.Tracker,
	logger *slog.Logger,
) *RebalanceMonitor {
	opts.applyDefaults()
	return &RebalanceMonitor{
		opts:       opts,
		events:     events,
		quotes:     quotes,
		feed:       feed,
		tracker:    tracker,
		logger:     logger.With(slog.String("component", "rebalance_monitor")),
		subscribed: make(map[string]struct{}),
	}
}

// SetAlertFile adds a local JSONL sink for verified opportunities.
func (m *RebalanceMonitor) SetAlertFile(w *AlertWriter) { m.alertFile = w }

// SetAlertStore adds a database sink for verified opportunities.
func (m *RebalanceMonitor) SetAlertStore(s domain.AlertStore) { m.alerts = s }

// SetSignalBus adds a pub/sub + stream sink for verified opportunities.
func (m *RebalanceMonitor) SetSignalBus(b SignalPublisher) { m.bus = b }

// SetNotifier adds a push notification sink for verified opportunities.
func (m *RebalanceMonitor) SetNotifier(n *notify.Notifier) { m.notifier = n }

// SetPriceCache mirrors live best asks into the shared price cache.
func (m *RebalanceMonitor) SetPriceCache(c domain.PriceCache) { m.prices = c }

// Run performs the initial discovery, wires the feed handlers, and loops on
// the refresh and status tickers until the context is cancelled. Per-cycle
// errors are logged and never fatal.
func (m *RebalanceMonitor) Run(ctx context.Context) error {
	m.tracker.OnOpportunity(func(opp domain.RebalanceOpportunity) {
		// Verification does REST calls; never block the feed goroutine.
		go m.handleOpportunity(ctx, opp)
	})
	m.feed.OnPriceChange(func(p domain.PriceUpdate) {
		ask := p.BestAsk
		if ask <= 0 {
			ask = p.Price
		}
		m.tracker.UpdateBestAsk(p.AssetID, ask, p.Timestamp)
		if m.prices != nil && p.Price > 0 {
			if err := m.prices.SetPrice(ctx, p.AssetID, p.Price, p.Timestamp); err != nil {
				m.logger.Debug("price cache write failed", slog.Any("error", err))
			}
		}
	})
	m.feed.OnBookUpdate(func(b domain.BookSnapshot) {
		m.tracker.UpdateBook(b.AssetID, b.Asks, b.Timestamp)
	})

	if err := m.refresh(ctx); err != nil {
		m.logger.Error("initial event scan failed", slog.Any("error", err))
	}

	refresh := time.NewTicker(m.opts.RefreshInterval)
	defer refresh.Stop()
	status := time.NewTicker(m.opts.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C:
			if err := m.refresh(ctx); err != nil {
				m.logger.Error("event scan failed", slog.Any("error", err))
			}
		case <-status.C:
			m.logStatus()
		}
	}
}

// refresh rescans Gamma for trackable events, seeds any new tokens with REST
// best asks and subscribes them on the feed. Already-tracked events are
// re-registered so outcome sets follow market closures.
func (m *RebalanceMonitor) refresh(ctx context.Context) error {
	events, err := m.events.GetAllActiveEvents(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list events: %w", err)
	}

	type candidate struct {
		eventID  string
		title    string
		outcomes []domain.OutcomeToken
	}
	var candidates []candidate

	for i := range events {
		ev := &events[i]
		switch {
		case IsRebalanceCandidate(ev, m.opts.SportsOnly) && !m.opts.NBAOnly:
			candidates = append(candidates, candidate{
				eventID:  ev.ID,
				title:    ev.Title,
				outcomes: ExtractYesTokens(ev),
			})
		case IsNBAGameEvent(ev):
			// Each binary game market forms its own two-outcome set: the
			// YES and NO tokens of one market always settle to exactly $1.
			for j := range ev.Markets {
				mkt := &ev.Markets[j]
				if mkt.Closed || len(mkt.Tokens) < 2 {
					continue
				}
				candidates = append(candidates, candidate{
					eventID:  mkt.ID,
					title:    mkt.Question,
					outcomes: mkt.Tokens[:2],
				})
			}
		}
	}

	// Seed fresh tokens with REST best asks so a sum is computable before
	// the first websocket tick arrives.
	var fresh []string
	m.mu.Lock()
	for _, c := range candidates {
		for _, o := range c.outcomes {
			if _, ok := m.subscribed[o.TokenID]; !ok {
				fresh = append(fresh, o.TokenID)
			}
		}
	}
	m.mu.Unlock()
	seeds := m.seedAsks(ctx, fresh)

	registered := 0
	for _, c := range candidates {
		outcomes := make([]strategy.SeedOutcome, 0, len(c.outcomes))
		for _, o := range c.outcomes {
			outcomes = append(outcomes, strategy.SeedOutcome{
				TokenID: o.TokenID,
				Outcome: o.Outcome,
				SeedAsk: seeds[o.TokenID],
			})
		}
		m.tracker.RegisterEvent(c.eventID, c.title, outcomes)
		registered++
	}

	if len(fresh) > 0 {
		if err := m.feed.Subscribe(fresh...); err != nil {
			m.logger.Error("subscribe failed", slog.Any("error", err))
		}
		m.mu.Lock()
		for _, id := range fresh {
			m.subscribed[id] = struct{}{}
		}
		m.mu.Unlock()
	}

	m.logger.Info("event scan complete",
		slog.Int("events_scanned", len(events)),
		slog.Int("events_tracked", registered),
		slog.Int("new_tokens", len(fresh)))
	return nil
}

// seedAsks fetches REST best asks for the given tokens with a bounded worker
// pool. Tokens whose fetch fails seed at zero and wait for the feed.
func (m *RebalanceMonitor) seedAsks(ctx context.Context, tokenIDs []string) map[string]float64 {
	seeds := make(map[string]float64, len(tokenIDs))
	if len(tokenIDs) == 0 {
		return seeds
	}

	var seedMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.SeedWorkers)
	for _, id := range tokenIDs {
		id := id
		g.Go(func() error {
			ask, err := m.quotes.GetBestAsk(gctx, id)
			if err != nil {
				m.logger.Debug("seed ask failed",
					slog.String("token_id", id),
					slog.Any("error", err))
				return nil
			}
			seedMu.Lock()
			seeds[id] = ask
			seedMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("seeded best asks",
		slog.Int("requested", len(tokenIDs)),
		slog.Int("seeded", len(seeds)))
	return seeds
}

// handleOpportunity verifies a fired opportunity against the live CLOB book
// and fans it out to every configured sink. Cached websocket state can go
// stale; the book check rejects opportunities that no longer exist.
func (m *RebalanceMonitor) handleOpportunity(ctx context.Context, opp domain.RebalanceOpportunity) {
	if m.opts.VerifyWithBook {
		verified, ok := m.verify(ctx, opp)
		if !ok {
			return
		}
		opp = verified
	}

	m.logger.Info("rebalance opportunity",
		slog.String("event_id", opp.EventID),
		slog.String("title", opp.Title),
		slog.Float64("sum", opp.Sum),
		slog.Float64("gap", opp.Gap),
		slog.Bool("strong", opp.Strong),
		slog.Bool("executable", opp.Executable))

	if m.alertFile != nil {
		if err := m.alertFile.Write(opp); err != nil {
			m.logger.Error("alert file write failed", slog.Any("error", err))
		}
	}
	if m.alerts != nil {
		if err := m.alerts.Insert(ctx, opp); err != nil {
			m.logger.Error("alert store insert failed", slog.Any("error", err))
		}
	}
	if m.bus != nil {
		if payload, err := json.Marshal(opp); err == nil {
			if err := m.bus.Publish(ctx, rebalanceChannel, payload); err != nil {
				m.logger.Error("bus publish failed", slog.Any("error", err))
			}
			if err := m.bus.StreamAppend(ctx, rebalanceStream, payload); err != nil {
				m.logger.Error("stream append failed", slog.Any("error", err))
			}
		}
	}
	if m.notifier != nil {
		title := fmt.Sprintf("Rebalance: %s", opp.Title)
		msg := fmt.Sprintf("sum=%.4f gap=%.4f (%.2f%%) outcomes=%d min_depth=$%.0f",
			opp.Sum, opp.Gap, opp.GapPct, opp.OutcomeCount, opp.MinDepth)
		if err := m.notifier.Notify(ctx, notify.EventOpportunity, title, msg); err != nil {
			m.logger.Error("notify failed", slog.Any("error", err))
		}
	}
}

// verify refetches every outcome's book over REST and recomputes the sum.
// The verified quotes also flow back into the tracker, so stale cached asks
// self-correct instead of re-firing.
func (m *RebalanceMonitor) verify(ctx context.Context, opp domain.RebalanceOpportunity) (domain.RebalanceOpportunity, bool) {
	sum := 0.0
	minDepth := math.Inf(1)
	verified := make([]domain.OutcomeQuote, 0, len(opp.Outcomes))

	for _, q := range opp.Outcomes {
		book, err := m.quotes.GetBook(ctx, q.TokenID)
		if err != nil {
			m.logger.Warn("book verification fetch failed",
				slog.String("token_id", q.TokenID),
				slog.Any("error", err))
			return domain.RebalanceOpportunity{}, false
		}
		ask := book.BestAsk()
		if ask <= 0 {
			m.logger.Debug("book verification: no asks",
				slog.String("token_id", q.TokenID))
			return domain.RebalanceOpportunity{}, false
		}
		depth := book.BestAskDepth()
		sum += ask
		if depth < minDepth {
			minDepth = depth
		}
		verified = append(verified, domain.OutcomeQuote{
			TokenID: q.TokenID,
			Outcome: q.Outcome,
			BestAsk: ask,
			Depth:   depth,
		})
		m.tracker.UpdateBook(q.TokenID, book.Asks, book.Timestamp)
	}

	if sum >= 1.0 {
		m.logger.Info("opportunity rejected by book verification",
			slog.String("event_id", opp.EventID),
			slog.Float64("cached_sum", opp.Sum),
			slog.Float64("verified_sum", sum))
		return domain.RebalanceOpportunity{}, false
	}

	opp.Sum = sum
	opp.Gap = 1 - sum
	opp.GapPct = opp.Gap * 100
	opp.Outcomes = verified
	opp.MinDepth = minDepth
	opp.Executable = !math.IsInf(minDepth, 1) && minDepth >= m.opts.MinDepthUSD
	return opp, true
}

func (m *RebalanceMonitor) logStatus() {
	stats := m.tracker.Stats()
	m.logger.Info("rebalance status",
		slog.Int("events", stats.EventsTracked),
		slog.Int("tokens", stats.TokensTracked),
		slog.Int64("updates", stats.UpdatesProcessed),
		slog.Int64("opportunities", stats.OpportunitiesFound),
		slog.Int64("strong", stats.StrongOpportunities),
		slog.Int("subscribed", m.feed.SubscribedCount()))
}
