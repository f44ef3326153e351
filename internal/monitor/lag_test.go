package monitor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/polywatch/internal/capture"
	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/platform/oddsapi"
	"github.com/alanyoungcy/polywatch/internal/strategy"
)

type lagFixture struct {
	monitor   *LagMonitor
	oracle    *fakeOracle
	resolver  *fakeResolver
	feed      *fakeFeed
	triggers  *fakeTriggerStore
	moves     *fakeMoveStore
	snapshots *fakeSnapshotStore
}

func newLagFixture(t *testing.T) *lagFixture {
	t.Helper()
	hours := mustHours(t, 10, 3)
	commence := time.Date(2026, 1, 16, 0, 30, 0, 0, time.UTC) // Jan 15 ET

	oracle := &fakeOracle{
		lines: []oddsapi.TotalLine{{
			GameID:       "odds-1",
			HomeTeam:     "Boston Celtics",
			AwayTeam:     "Los Angeles Lakers",
			CommenceTime: commence,
			Line:         228.5,
			OverImplied:  0.5,
		}},
	}

	slug := MakeGameSlug("Los Angeles Lakers", "Boston Celtics", commence, hours.Location())
	resolver := &fakeResolver{events: map[string]domain.Event{
		slug: {
			ID:    "evt-1",
			Slug:  slug,
			Title: "Lakers vs. Celtics",
			Markets: []domain.Market{{
				ID:       "mkt-total",
				Question: "Lakers vs. Celtics O/U 228.5",
				Slug:     slug + "-total-228pt5",
				Tokens: []domain.OutcomeToken{
					{TokenID: "tok-over", Outcome: "Over"},
					{TokenID: "tok-under", Outcome: "Under"},
				},
			}},
		},
	}}

	feed := newFakeFeed()
	triggers := &fakeTriggerStore{}
	moves := &fakeMoveStore{}
	snapshots := &fakeSnapshotStore{}
	detector := strategy.NewDetector(strategy.DetectorConfig{}, testLogger())
	scheduler := capture.NewScheduler(moves, []time.Duration{5 * time.Millisecond}, testLogger())

	m := NewLagMonitor(LagOptions{}, hours, oracle, resolver, feed,
		detector, scheduler, triggers, snapshots, testLogger())
	m.capture.SetPriceGetter(m.livePrice)
	m.capture.SetBookGetter(m.liveBook)

	return &lagFixture{
		monitor:   m,
		oracle:    oracle,
		resolver:  resolver,
		feed:      feed,
		triggers:  triggers,
		moves:     moves,
		snapshots: snapshots,
	}
}

func TestLagPollTracksNewGame(t *testing.T) {
	fx := newLagFixture(t)
	ctx := context.Background()

	if err := fx.monitor.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	fx.monitor.mu.Lock()
	g, ok := fx.monitor.games["Los Angeles Lakers@Boston Celtics"]
	fx.monitor.mu.Unlock()
	if !ok {
		t.Fatal("game should be tracked after first poll")
	}
	if g.overToken != "tok-over" || g.underToken != "tok-under" {
		t.Errorf("wrong tokens: %s / %s", g.overToken, g.underToken)
	}
	if math.Abs(g.marketLine-228.5) > 1e-9 {
		t.Errorf("market line = %v, want 228.5", g.marketLine)
	}
	if fx.feed.SubscribedCount() != 2 {
		t.Errorf("subscribed = %d, want both sides", fx.feed.SubscribedCount())
	}
	if len(fx.triggers.all()) != 0 {
		t.Error("first observation must not trigger")
	}
}

func TestLagPollIgnoresOutOfBoundsLines(t *testing.T) {
	fx := newLagFixture(t)
	fx.oracle.setLine(0, 150, 0.5)

	if err := fx.monitor.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	fx.monitor.mu.Lock()
	games := len(fx.monitor.games)
	fx.monitor.mu.Unlock()
	if games != 0 {
		t.Errorf("a 150 total is outside NBA bounds, tracked %d games", games)
	}
}

func TestLagPollRejectsMismatchedEventTitle(t *testing.T) {
	fx := newLagFixture(t)

	// The slug resolves, but to a different matchup. The game must not be
	// tracked and nothing subscribed.
	for slug, ev := range fx.resolver.events {
		ev.Title = "Heat vs. Magic"
		fx.resolver.events[slug] = ev
	}

	if err := fx.monitor.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	fx.monitor.mu.Lock()
	games := len(fx.monitor.games)
	fx.monitor.mu.Unlock()
	if games != 0 {
		t.Errorf("mismatched event tracked %d games, want 0", games)
	}
	if fx.feed.SubscribedCount() != 0 {
		t.Errorf("subscribed = %d, want 0", fx.feed.SubscribedCount())
	}
}

func TestLagPollFiresTriggerOnLineMove(t *testing.T) {
	fx := newLagFixture(t)
	ctx := context.Background()
	fx.feed.setPrice("tok-over", 0.5)

	if err := fx.monitor.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// Oracle moves 2 points, past the 1.5 threshold, but implied barely
	// moves. The market's 228.5 line now differs from the oracle's 230.5
	// by more than the match tolerance, so the reference implied comes
	// from the alternate lines board at 228.5.
	fx.oracle.setLine(0, 230.5, 0.52)
	fx.oracle.mu.Lock()
	fx.oracle.alt = oddsapi.APIGame{
		ID: "odds-1",
		Bookmakers: []oddsapi.APIBookmaker{{
			Key: "pinnacle",
			Markets: []oddsapi.APIMarketOdds{{
				Key: oddsapi.MarketAlternateTotals,
				Outcomes: []oddsapi.APIOutcome{
					{Name: "Over", Point: 228.5, Price: 1.8},
					{Name: "Under", Point: 228.5, Price: 2.0},
				},
			}},
		}},
	}
	fx.oracle.mu.Unlock()

	if err := fx.monitor.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	trigs := fx.triggers.all()
	if len(trigs) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(trigs))
	}
	trig := trigs[0]
	if trig.Type != domain.TriggerLineMove {
		t.Errorf("type = %s, want line_move", trig.Type)
	}
	if math.Abs(trig.DeltaLine-2.0) > 1e-9 {
		t.Errorf("delta line = %v, want 2.0", trig.DeltaLine)
	}
	// De-vig of 1.8/2.0: (1/1.8) / (1/1.8 + 1/2.0).
	wantImplied := (1 / 1.8) / (1/1.8 + 1/2.0)
	if math.Abs(trig.NewImplied-wantImplied) > 1e-9 {
		t.Errorf("new implied = %v, want %v from alternate line", trig.NewImplied, wantImplied)
	}
	if math.Abs(trig.PolyPrice-0.5) > 1e-9 {
		t.Errorf("poly price = %v, want 0.5", trig.PolyPrice)
	}
	if math.Abs(trig.Gap-math.Abs(wantImplied-0.5)) > 1e-9 {
		t.Errorf("gap = %v", trig.Gap)
	}

	// The trigger anchors a capture series and schedules follow-ups.
	fx.monitor.capture.Wait()
	evs, _ := fx.moves.ListMoveEvents(ctx, "Los Angeles Lakers@Boston Celtics", domain.ListOpts{})
	if len(evs) != 1 {
		t.Fatalf("expected 1 move event, got %d", len(evs))
	}
	samples, _ := fx.moves.ListSamples(ctx, evs[0].ID)
	if len(samples) != 2 {
		t.Errorf("expected t0 plus one offset sample, got %d", len(samples))
	}

	// Polling escalates to the fast interval after a trigger.
	if got := fx.monitor.pollInterval(time.Now()); got != fx.monitor.opts.TriggerInterval {
		t.Errorf("poll interval = %v, want trigger interval", got)
	}
}

func TestLagAnomalyEscalationRefreshesOracle(t *testing.T) {
	fx := newLagFixture(t)
	ctx := context.Background()
	fx.monitor.runCtx = ctx
	fx.feed.setPrice("tok-over", 0.5)

	if err := fx.monitor.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	before := fx.oracle.totalsCalls()

	// The oracle has moved past the line threshold since the last poll.
	// A won escalation must re-read the board immediately rather than
	// waiting out the poll interval.
	fx.oracle.setLine(0, 230.5, 0.5)
	fx.monitor.onAnomaly(domain.Anomaly{
		Type:       domain.AnomalyPriceChange,
		GameKey:    "Los Angeles Lakers@Boston Celtics",
		MarketType: domain.MarketTotal,
		Outcome:    "yes",
		Time:       time.Now(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(fx.triggers.all()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if got := fx.oracle.totalsCalls(); got <= before {
		t.Fatalf("totals board read %d times after escalation, want a fresh read", got-before)
	}
	trigs := fx.triggers.all()
	if len(trigs) != 1 {
		t.Fatalf("expected the refreshed line to trigger, got %d triggers", len(trigs))
	}
	if trigs[0].Type != domain.TriggerLineMove {
		t.Errorf("type = %s, want line_move", trigs[0].Type)
	}
	if math.Abs(trigs[0].DeltaLine-2.0) > 1e-9 {
		t.Errorf("delta line = %v, want 2.0", trigs[0].DeltaLine)
	}
	if got := fx.monitor.pollInterval(time.Now()); got != fx.monitor.opts.TriggerInterval {
		t.Errorf("poll interval = %v, want trigger interval", got)
	}
}

func TestLagPollBelowThresholdStaysQuiet(t *testing.T) {
	fx := newLagFixture(t)
	ctx := context.Background()
	fx.feed.setPrice("tok-over", 0.5)

	if err := fx.monitor.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	fx.oracle.setLine(0, 229.5, 0.53) // 1.0 line, 0.03 implied: both below
	if err := fx.monitor.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if len(fx.triggers.all()) != 0 {
		t.Error("sub-threshold move must not trigger")
	}
	// The oracle state still advances so the next comparison is against
	// the latest board.
	fx.monitor.mu.Lock()
	line := fx.monitor.games["Los Angeles Lakers@Boston Celtics"].line
	fx.monitor.mu.Unlock()
	if math.Abs(line-229.5) > 1e-9 {
		t.Errorf("tracked line = %v, want 229.5", line)
	}
}

func TestLagSweepClosesConvergedTrigger(t *testing.T) {
	fx := newLagFixture(t)
	ctx := context.Background()

	opened := time.Now().Add(-90 * time.Second)
	fx.triggers.Insert(ctx, domain.Trigger{
		ID:         "trig-1",
		GameKey:    "Los Angeles Lakers@Boston Celtics",
		Time:       opened,
		Type:       domain.TriggerLineMove,
		NewImplied: 0.5,
	})
	fx.triggers.Insert(ctx, domain.Trigger{
		ID:         "trig-2",
		GameKey:    "Los Angeles Lakers@Boston Celtics",
		Time:       opened,
		Type:       domain.TriggerLineMove,
		NewImplied: 0.75,
	})

	fx.monitor.mu.Lock()
	fx.monitor.games["Los Angeles Lakers@Boston Celtics"] = &trackedGame{
		gameKey:   "Los Angeles Lakers@Boston Celtics",
		overToken: "tok-over",
	}
	fx.monitor.mu.Unlock()
	fx.feed.setPrice("tok-over", 0.505)

	if err := fx.monitor.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	trigs := fx.triggers.all()
	var closed, open int
	for _, trig := range trigs {
		if trig.GapClosedAt != nil {
			closed++
			if trig.ID != "trig-1" {
				t.Errorf("wrong trigger closed: %s", trig.ID)
			}
			if trig.LagSeconds == nil || *trig.LagSeconds < 89 {
				t.Errorf("lag seconds should reflect the open duration, got %v", trig.LagSeconds)
			}
		} else {
			open++
		}
	}
	if closed != 1 || open != 1 {
		t.Errorf("closed=%d open=%d, want exactly the converged trigger closed", closed, open)
	}
}

func TestLagSuspendDropsTrackedState(t *testing.T) {
	fx := newLagFixture(t)
	ctx := context.Background()

	if err := fx.monitor.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if fx.feed.SubscribedCount() == 0 {
		t.Fatal("expected subscriptions before suspend")
	}

	// Cancelled context makes suspend return immediately after cleanup.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := fx.monitor.suspend(cctx); err == nil {
		t.Fatal("suspend with cancelled context should return the context error")
	}

	if fx.feed.SubscribedCount() != 0 {
		t.Errorf("subscriptions should be dropped, still %d", fx.feed.SubscribedCount())
	}
	fx.monitor.mu.Lock()
	games := len(fx.monitor.games)
	fx.monitor.mu.Unlock()
	if games != 0 {
		t.Errorf("tracked games should be cleared, still %d", games)
	}
}
