package strategy

import (
	"testing"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

func newTestTracker(t *testing.T) (*Tracker, *[]domain.RebalanceOpportunity) {
	t.Helper()
	tr := NewTracker(TrackerConfig{}, testLogger())
	var got []domain.RebalanceOpportunity
	tr.OnOpportunity(func(o domain.RebalanceOpportunity) { got = append(got, o) })
	return tr, &got
}

func champOutcomes() []SeedOutcome {
	return []SeedOutcome{
		{TokenID: "tok-bos", Outcome: "Celtics"},
		{TokenID: "tok-okc", Outcome: "Thunder"},
		{TokenID: "tok-den", Outcome: "Nuggets"},
	}
}

func TestSumUndefinedUntilAllOutcomesPriced(t *testing.T) {
	tr, got := newTestTracker(t)
	tr.RegisterEvent("ev1", "NBA Champion", champOutcomes())
	t0 := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	tr.UpdateBestAsk("tok-bos", 0.25, t0)
	tr.UpdateBestAsk("tok-okc", 0.375, t0)
	if _, ok := tr.EventSum("ev1"); ok {
		t.Error("sum defined with an unpriced outcome")
	}
	if len(*got) != 0 {
		t.Fatalf("opportunity fired before all outcomes priced: %+v", *got)
	}

	tr.UpdateBestAsk("tok-den", 0.25, t0)
	sum, ok := tr.EventSum("ev1")
	if !ok || sum != 0.875 {
		t.Fatalf("sum = %v ok=%v, want 0.875", sum, ok)
	}
	if len(*got) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(*got))
	}
	opp := (*got)[0]
	if opp.Sum != 0.875 || opp.OutcomeCount != 3 || opp.EventID != "ev1" {
		t.Errorf("opportunity = %+v", opp)
	}
	if !opp.Strong {
		t.Error("sum 0.875 < 0.995 must be strong")
	}
	if opp.Executable {
		t.Error("price-only updates carry no depth and cannot be executable")
	}
	if opp.ID == "" {
		t.Error("opportunity id missing")
	}
}

func TestSeedAsksPrimeTheSum(t *testing.T) {
	tr, got := newTestTracker(t)
	tr.RegisterEvent("ev1", "NBA Champion", []SeedOutcome{
		{TokenID: "tok-bos", Outcome: "Celtics", SeedAsk: 0.25},
		{TokenID: "tok-okc", Outcome: "Thunder", SeedAsk: 0.5},
	})

	// Discovery prices already sum below threshold.
	if len(*got) != 1 {
		t.Fatalf("got %d opportunities from seeds, want 1", len(*got))
	}
	if (*got)[0].Sum != 0.75 {
		t.Errorf("sum = %v, want 0.75", (*got)[0].Sum)
	}
}

func TestNoOpportunityAtOrAboveThreshold(t *testing.T) {
	tr, got := newTestTracker(t)
	tr.RegisterEvent("ev1", "NBA Champion", champOutcomes())
	t0 := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	tr.UpdateBestAsk("tok-bos", 0.5, t0)
	tr.UpdateBestAsk("tok-okc", 0.25, t0)
	tr.UpdateBestAsk("tok-den", 0.25, t0)

	if len(*got) != 0 {
		t.Errorf("sum exactly 1.0 fired: %+v", *got)
	}
	if sum, ok := tr.EventSum("ev1"); !ok || sum != 1.0 {
		t.Errorf("sum = %v ok=%v, want defined 1.0", sum, ok)
	}
}

func TestDeadMarketSuppressed(t *testing.T) {
	tr, got := newTestTracker(t)
	tr.RegisterEvent("ev1", "Settled event", champOutcomes())
	t0 := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	// Every ask at the floor: the event has settled, the tiny sum is not
	// a tradable gap.
	tr.UpdateBestAsk("tok-bos", 0.01, t0)
	tr.UpdateBestAsk("tok-okc", 0.02, t0)
	tr.UpdateBestAsk("tok-den", 0.01, t0)

	if len(*got) != 0 {
		t.Errorf("dead market fired: %+v", *got)
	}
	if _, ok := tr.EventSum("ev1"); ok {
		t.Error("dead market must report no sum")
	}
}

func TestDedupWindowAndSumMoveOverride(t *testing.T) {
	tr, got := newTestTracker(t)
	tr.RegisterEvent("ev1", "NBA Champion", champOutcomes())
	t0 := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	tr.UpdateBestAsk("tok-bos", 0.25, t0)
	tr.UpdateBestAsk("tok-okc", 0.375, t0)
	tr.UpdateBestAsk("tok-den", 0.25, t0)
	if len(*got) != 1 {
		t.Fatalf("got %d, want initial opportunity", len(*got))
	}

	// Sub-delta wiggle inside the window: suppressed.
	tr.UpdateBestAsk("tok-den", 0.252, t0.Add(10*time.Second))
	if len(*got) != 1 {
		t.Fatalf("duplicate inside dedup window fired")
	}

	// Sum moved by 0.01 >= 0.005: fires even inside the window.
	tr.UpdateBestAsk("tok-den", 0.26, t0.Add(20*time.Second))
	if len(*got) != 2 {
		t.Fatalf("material sum move suppressed")
	}

	// Window expired: same sum fires again.
	tr.UpdateBestAsk("tok-den", 0.26, t0.Add(81*time.Second))
	if len(*got) != 3 {
		t.Fatalf("re-emission after dedup window suppressed")
	}
}

func TestBookUpdateDepthAndExecutability(t *testing.T) {
	tr, got := newTestTracker(t)
	tr.RegisterEvent("ev1", "NBA Champion", []SeedOutcome{
		{TokenID: "tok-bos", Outcome: "Celtics"},
		{TokenID: "tok-okc", Outcome: "Thunder"},
	})
	t0 := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	tr.UpdateBook("tok-bos", []domain.PriceLevel{
		{Price: 0.625, Size: 300},
		{Price: 0.5, Size: 200},
		{Price: 0.5, Size: 300}, // ties at best aggregate
	}, t0)
	tr.UpdateBook("tok-okc", []domain.PriceLevel{
		{Price: 0.25, Size: 1000},
	}, t0)

	if len(*got) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(*got))
	}
	opp := (*got)[0]
	if opp.Sum != 0.75 {
		t.Errorf("sum = %v, want 0.75", opp.Sum)
	}
	if !opp.Executable {
		t.Errorf("min depth %v across outcomes clears $100", opp.MinDepth)
	}
	wantDepth := 0.5 * 500
	if opp.MinDepth != wantDepth {
		t.Errorf("min depth = %v, want %v", opp.MinDepth, wantDepth)
	}
	for _, q := range opp.Outcomes {
		if q.TokenID == "tok-bos" && q.Depth != wantDepth {
			t.Errorf("tok-bos depth = %v, want %v", q.Depth, wantDepth)
		}
	}
}

func TestUnregisteredTokenIgnored(t *testing.T) {
	tr, got := newTestTracker(t)
	tr.RegisterEvent("ev1", "NBA Champion", champOutcomes())
	t0 := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	tr.UpdateBestAsk("tok-unknown", 0.10, t0)
	tr.UpdateBook("tok-unknown", []domain.PriceLevel{{Price: 0.10, Size: 10}}, t0)

	if len(*got) != 0 {
		t.Errorf("unregistered token fired: %+v", *got)
	}
	if tr.Stats().UpdatesProcessed != 0 {
		t.Errorf("unregistered updates counted")
	}
}

func TestTrackerStats(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.RegisterEvent("ev1", "A", champOutcomes())
	tr.RegisterEvent("ev2", "B", []SeedOutcome{{TokenID: "tok-x", Outcome: "Yes"}, {TokenID: "tok-y", Outcome: "No"}})
	t0 := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)

	tr.UpdateBestAsk("tok-x", 0.40, t0)
	tr.UpdateBestAsk("tok-y", 0.50, t0)

	s := tr.Stats()
	if s.EventsTracked != 2 || s.TokensTracked != 5 {
		t.Errorf("tracked = %d events / %d tokens", s.EventsTracked, s.TokensTracked)
	}
	if s.UpdatesProcessed != 2 {
		t.Errorf("updates = %d, want 2", s.UpdatesProcessed)
	}
	if s.OpportunitiesFound != 1 || s.StrongOpportunities != 1 {
		t.Errorf("opportunities = %d/%d", s.OpportunitiesFound, s.StrongOpportunities)
	}
	if len(tr.RegisteredTokenIDs()) != 5 {
		t.Errorf("registered ids = %d", len(tr.RegisteredTokenIDs()))
	}
}
