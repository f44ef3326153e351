package monitor

import (
	"bufio"
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/strategy"
)

func newTestTracker(t *testing.T) (*strategy.Tracker, *[]domain.RebalanceOpportunity, *sync.Mutex) {
	t.Helper()
	tracker := strategy.NewTracker(strategy.TrackerConfig{}, testLogger())
	var (
		mu    sync.Mutex
		fired []domain.RebalanceOpportunity
	)
	tracker.OnOpportunity(func(opp domain.RebalanceOpportunity) {
		mu.Lock()
		fired = append(fired, opp)
		mu.Unlock()
	})
	return tracker, &fired, &mu
}

func champEvent() domain.Event {
	tok := func(id string) []domain.OutcomeToken {
		return []domain.OutcomeToken{
			{TokenID: id, Outcome: "Yes"},
			{TokenID: id + "-no", Outcome: "No"},
		}
	}
	return domain.Event{
		ID:      "evt-champ",
		Title:   "Championship Winner",
		NegRisk: true,
		Tags:    []string{"Sports", "NBA"},
		Markets: []domain.Market{
			{ID: "m1", Question: "Will the Thunder win?", Tokens: tok("okc")},
			{ID: "m2", Question: "Will the Nuggets win?", Tokens: tok("den")},
			{ID: "m3", Question: "Will the Celtics win?", Tokens: tok("bos")},
		},
	}
}

func TestRebalanceRefreshRegistersAndSeeds(t *testing.T) {
	tracker, fired, mu := newTestTracker(t)
	feed := newFakeFeed()
	quotes := &fakeQuoteSource{asks: map[string]float64{
		"okc": 0.25, "den": 0.25, "bos": 0.25,
	}}
	events := &fakeEventSource{events: []domain.Event{champEvent()}}

	m := NewRebalanceMonitor(RebalanceOptions{}, events, quotes, feed, tracker, testLogger())
	if err := m.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	sum, ok := tracker.EventSum("evt-champ")
	if !ok {
		t.Fatal("event sum should be defined after seeding all outcomes")
	}
	if math.Abs(sum-0.75) > 1e-9 {
		t.Errorf("sum = %v, want 0.75", sum)
	}
	if feed.SubscribedCount() != 3 {
		t.Errorf("subscribed = %d, want 3 YES tokens", feed.SubscribedCount())
	}

	// Seeded sum 0.75 fires immediately on registration.
	mu.Lock()
	defer mu.Unlock()
	if len(*fired) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(*fired))
	}
	if (*fired)[0].EventID != "evt-champ" {
		t.Errorf("unexpected event id %s", (*fired)[0].EventID)
	}
}

func TestRebalanceRefreshSkipsKnownTokensOnRescan(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	feed := newFakeFeed()
	quotes := &fakeQuoteSource{asks: map[string]float64{
		"okc": 0.375, "den": 0.375, "bos": 0.375,
	}}
	events := &fakeEventSource{events: []domain.Event{champEvent()}}

	m := NewRebalanceMonitor(RebalanceOptions{}, events, quotes, feed, tracker, testLogger())
	if err := m.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Second scan re-registers the event but must not re-seed or
	// re-subscribe already known tokens.
	quotes.mu.Lock()
	quotes.asks = map[string]float64{}
	quotes.mu.Unlock()
	if err := m.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if feed.SubscribedCount() != 3 {
		t.Errorf("subscribed = %d, want 3", feed.SubscribedCount())
	}
	if got := tracker.Stats().EventsTracked; got != 1 {
		t.Errorf("events tracked = %d, want 1", got)
	}
}

func TestRebalanceNBABinaryPairs(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	feed := newFakeFeed()
	quotes := &fakeQuoteSource{asks: map[string]float64{
		"game-yes": 0.375, "game-no": 0.5,
	}}
	game := domain.Event{
		ID:    "evt-game",
		Title: "Lakers vs. Celtics",
		Tags:  []string{"Sports", "NBA"},
		Markets: []domain.Market{
			{ID: "mkt-ml", Question: "Lakers vs. Celtics", Tokens: []domain.OutcomeToken{
				{TokenID: "game-yes", Outcome: "Yes"},
				{TokenID: "game-no", Outcome: "No"},
			}},
		},
	}
	events := &fakeEventSource{events: []domain.Event{game}}

	m := NewRebalanceMonitor(RebalanceOptions{}, events, quotes, feed, tracker, testLogger())
	if err := m.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// The binary market registers under its own market id with both sides.
	sum, ok := tracker.EventSum("mkt-ml")
	if !ok {
		t.Fatal("binary pair sum should be defined")
	}
	if math.Abs(sum-0.875) > 1e-9 {
		t.Errorf("sum = %v, want 0.875", sum)
	}
	if feed.SubscribedCount() != 2 {
		t.Errorf("subscribed = %d, want 2", feed.SubscribedCount())
	}
}

func verifyOpp() domain.RebalanceOpportunity {
	return domain.RebalanceOpportunity{
		ID:      "opp-1",
		EventID: "evt-champ",
		Title:   "Championship Winner",
		Time:    time.Now(),
		Sum:     0.875,
		Gap:     0.125,
		Outcomes: []domain.OutcomeQuote{
			{TokenID: "okc", Outcome: "Thunder", BestAsk: 0.375},
			{TokenID: "den", Outcome: "Nuggets", BestAsk: 0.5},
		},
		OutcomeCount: 2,
	}
}

func TestRebalanceVerifyRejectsFullyPriced(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	quotes := &fakeQuoteSource{books: map[string]domain.BookSnapshot{
		"okc": {AssetID: "okc", Asks: []domain.PriceLevel{{Price: 0.5, Size: 100}}},
		"den": {AssetID: "den", Asks: []domain.PriceLevel{{Price: 0.5, Size: 100}}},
	}}
	m := NewRebalanceMonitor(RebalanceOptions{VerifyWithBook: true},
		&fakeEventSource{}, quotes, newFakeFeed(), tracker, testLogger())

	if _, ok := m.verify(context.Background(), verifyOpp()); ok {
		t.Error("verified sum of 1.0 must reject the opportunity")
	}
}

func TestRebalanceVerifyRecomputesFromBooks(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	quotes := &fakeQuoteSource{books: map[string]domain.BookSnapshot{
		"okc": {AssetID: "okc", Asks: []domain.PriceLevel{{Price: 0.375, Size: 1000}}},
		"den": {AssetID: "den", Asks: []domain.PriceLevel{{Price: 0.5, Size: 400}}},
	}}
	m := NewRebalanceMonitor(RebalanceOptions{VerifyWithBook: true, MinDepthUSD: 100},
		&fakeEventSource{}, quotes, newFakeFeed(), tracker, testLogger())

	got, ok := m.verify(context.Background(), verifyOpp())
	if !ok {
		t.Fatal("expected verification to pass")
	}
	if math.Abs(got.Sum-0.875) > 1e-9 {
		t.Errorf("verified sum = %v, want 0.875", got.Sum)
	}
	if math.Abs(got.Gap-0.125) > 1e-9 {
		t.Errorf("gap = %v, want 0.125", got.Gap)
	}
	// Gap percent is the gap itself scaled to percent, not gap over sum.
	if math.Abs(got.GapPct-12.5) > 1e-9 {
		t.Errorf("gap pct = %v, want 12.5", got.GapPct)
	}
	// Min depth is the thinner book: 0.5 * 400 = 200.
	if math.Abs(got.MinDepth-200) > 1e-9 {
		t.Errorf("min depth = %v, want 200", got.MinDepth)
	}
	if !got.Executable {
		t.Error("200 USD depth should be executable at a 100 USD floor")
	}
}

func TestRebalanceHandleOpportunityFansOut(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	store := &fakeAlertStore{}
	path := filepath.Join(t.TempDir(), "alerts.jsonl")

	m := NewRebalanceMonitor(RebalanceOptions{VerifyWithBook: false},
		&fakeEventSource{}, &fakeQuoteSource{}, newFakeFeed(), tracker, testLogger())
	m.SetAlertFile(NewAlertWriter(path))
	m.SetAlertStore(store)

	m.handleOpportunity(context.Background(), verifyOpp())

	alerts, _ := store.ListRecent(context.Background(), 10)
	if len(alerts) != 1 || alerts[0].ID != "opp-1" {
		t.Fatalf("alert store should hold the opportunity, got %+v", alerts)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("alert file missing: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 1 {
		t.Errorf("alert file lines = %d, want 1", lines)
	}
}
