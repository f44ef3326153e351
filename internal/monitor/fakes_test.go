package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/platform/oddsapi"
	"github.com/alanyoungcy/polywatch/internal/platform/polymarket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeed satisfies PriceFeed with in-memory state.
type fakeFeed struct {
	mu            sync.Mutex
	subs          map[string]struct{}
	prices        map[string]float64
	priceHandlers []polymarket.PriceHandler
	bookHandlers  []polymarket.BookHandler
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		subs:   make(map[string]struct{}),
		prices: make(map[string]float64),
	}
}

func (f *fakeFeed) Subscribe(assetIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range assetIDs {
		f.subs[id] = struct{}{}
	}
	return nil
}

func (f *fakeFeed) Unsubscribe(assetIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range assetIDs {
		delete(f.subs, id)
	}
	return nil
}

func (f *fakeFeed) OnPriceChange(h polymarket.PriceHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceHandlers = append(f.priceHandlers, h)
}

func (f *fakeFeed) OnBookUpdate(h polymarket.BookHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookHandlers = append(f.bookHandlers, h)
}

func (f *fakeFeed) LastPrice(assetID string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[assetID]
	return p, ok
}

func (f *fakeFeed) SubscribedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) setPrice(assetID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[assetID] = price
}

// fakeEventSource satisfies EventSource.
type fakeEventSource struct {
	events []domain.Event
}

func (s *fakeEventSource) GetAllActiveEvents(context.Context) ([]domain.Event, error) {
	return s.events, nil
}

// fakeQuoteSource satisfies QuoteSource.
type fakeQuoteSource struct {
	mu    sync.Mutex
	asks  map[string]float64
	books map[string]domain.BookSnapshot
}

func (s *fakeQuoteSource) GetBestAsk(_ context.Context, tokenID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ask, ok := s.asks[tokenID]
	if !ok {
		return 0, fmt.Errorf("no ask for %s: %w", tokenID, domain.ErrNotFound)
	}
	return ask, nil
}

func (s *fakeQuoteSource) GetBook(_ context.Context, tokenID string) (domain.BookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[tokenID]
	if !ok {
		return domain.BookSnapshot{}, fmt.Errorf("no book for %s: %w", tokenID, domain.ErrNotFound)
	}
	return book, nil
}

// fakeOracle satisfies OracleSource.
type fakeOracle struct {
	mu         sync.Mutex
	lines      []oddsapi.TotalLine
	alt        oddsapi.APIGame
	totalsRead int
}

func (o *fakeOracle) GetTotals(context.Context) ([]oddsapi.TotalLine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.totalsRead++
	out := make([]oddsapi.TotalLine, len(o.lines))
	copy(out, o.lines)
	return out, nil
}

func (o *fakeOracle) totalsCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalsRead
}

func (o *fakeOracle) GetEventOdds(_ context.Context, _ string, _ ...string) (oddsapi.APIGame, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.alt, nil
}

func (o *fakeOracle) Credits() (int64, int64) { return 10, 1000 }

func (o *fakeOracle) setLine(i int, line, overImplied float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines[i].Line = line
	o.lines[i].OverImplied = overImplied
}

// fakeResolver satisfies MarketResolver.
type fakeResolver struct {
	events map[string]domain.Event
}

func (r *fakeResolver) GetEventBySlug(_ context.Context, slug string) (domain.Event, error) {
	ev, ok := r.events[slug]
	if !ok {
		return domain.Event{}, fmt.Errorf("slug %s: %w", slug, domain.ErrNotFound)
	}
	return ev, nil
}

// fakeTriggerStore satisfies domain.TriggerStore.
type fakeTriggerStore struct {
	mu       sync.Mutex
	triggers []domain.Trigger
}

func (s *fakeTriggerStore) Insert(_ context.Context, t domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, t)
	return nil
}

func (s *fakeTriggerStore) GetByID(_ context.Context, id string) (domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.triggers {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Trigger{}, domain.ErrNotFound
}

func (s *fakeTriggerStore) ListOpen(context.Context) ([]domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []domain.Trigger
	for _, t := range s.triggers {
		if t.GapClosedAt == nil {
			open = append(open, t)
		}
	}
	return open, nil
}

func (s *fakeTriggerStore) CloseGap(_ context.Context, id string, closedAt time.Time, lagSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.triggers {
		if s.triggers[i].ID == id && s.triggers[i].GapClosedAt == nil {
			s.triggers[i].GapClosedAt = &closedAt
			s.triggers[i].LagSeconds = &lagSeconds
		}
	}
	return nil
}

func (s *fakeTriggerStore) ListByGame(_ context.Context, gameKey string, _ domain.ListOpts) ([]domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trigger
	for _, t := range s.triggers {
		if t.GameKey == gameKey {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTriggerStore) all() []domain.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trigger, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// fakeMoveStore satisfies domain.MoveEventStore.
type fakeMoveStore struct {
	mu      sync.Mutex
	events  []domain.MoveEvent
	samples []domain.CaptureSample
}

func (s *fakeMoveStore) InsertMoveEvent(_ context.Context, ev domain.MoveEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeMoveStore) InsertSample(_ context.Context, sample domain.CaptureSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *fakeMoveStore) ListSamples(_ context.Context, moveEventID string) ([]domain.CaptureSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CaptureSample
	for _, sm := range s.samples {
		if sm.MoveEventID == moveEventID {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (s *fakeMoveStore) ListMoveEvents(_ context.Context, gameKey string, _ domain.ListOpts) ([]domain.MoveEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MoveEvent
	for _, ev := range s.events {
		if ev.GameKey == gameKey {
			out = append(out, ev)
		}
	}
	return out, nil
}

// fakeSnapshotStore satisfies domain.SnapshotStore.
type fakeSnapshotStore struct {
	mu        sync.Mutex
	snapshots []domain.LineSnapshot
}

func (s *fakeSnapshotStore) Insert(_ context.Context, snap domain.LineSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeSnapshotStore) Latest(context.Context, string, domain.SnapshotSource) (domain.LineSnapshot, error) {
	return domain.LineSnapshot{}, domain.ErrNotFound
}

// fakeAlertStore satisfies domain.AlertStore.
type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []domain.RebalanceOpportunity
}

func (s *fakeAlertStore) Insert(_ context.Context, opp domain.RebalanceOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, opp)
	return nil
}

func (s *fakeAlertStore) ListRecent(context.Context, int) ([]domain.RebalanceOpportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RebalanceOpportunity, len(s.alerts))
	copy(out, s.alerts)
	return out, nil
}

func (s *fakeAlertStore) ListBefore(context.Context, time.Time) ([]domain.RebalanceOpportunity, error) {
	return nil, nil
}

func (s *fakeAlertStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
