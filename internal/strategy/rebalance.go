package strategy

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// TrackerConfig controls the rebalance thresholds. Zero fields fall back to
// the defaults below.
type TrackerConfig struct {
	SumThreshold    float64
	StrongThreshold float64
	MinDepthUSD     float64
	DedupInterval   time.Duration
	DedupSumMove    float64
	DeadAskCutoff   float64
}

func (c *TrackerConfig) applyDefaults() {
	if c.SumThreshold <= 0 {
		c.SumThreshold = 1.0
	}
	if c.StrongThreshold <= 0 {
		c.StrongThreshold = 0.995
	}
	if c.MinDepthUSD <= 0 {
		c.MinDepthUSD = 100
	}
	if c.DedupInterval <= 0 {
		c.DedupInterval = time.Minute
	}
	if c.DedupSumMove <= 0 {
		c.DedupSumMove = 0.005
	}
	if c.DeadAskCutoff <= 0 {
		c.DeadAskCutoff = 0.02
	}
}

// OpportunityHandler receives rebalance opportunities. Handlers run outside
// the tracker's lock.
type OpportunityHandler func(domain.RebalanceOpportunity)

// TrackerStats are monotonic counters exposed for status logging.
type TrackerStats struct {
	EventsTracked       int
	TokensTracked       int
	UpdatesProcessed    int64
	OpportunitiesFound  int64
	StrongOpportunities int64
}

// SeedOutcome registers one outcome of an event, optionally carrying a
// discovery-time price as the initial best ask.
type SeedOutcome struct {
	TokenID string
	Outcome string
	SeedAsk float64
}

type trackedEvent struct {
	title    string
	tokens   []string
	lastSum  float64
	sumValid bool
}

type dedupEntry struct {
	at  time.Time
	sum float64
}

// Tracker maintains, per multi-outcome event, the live sum of best asks
// across all outcomes and emits an opportunity the instant the sum drops
// below the threshold. Updates touch only the owning event's outcomes, so
// the tracker scales to tens of thousands of registered tokens.
type Tracker struct {
	cfg    TrackerConfig
	logger *slog.Logger

	mu           sync.Mutex
	events       map[string]*trackedEvent
	tokenToEvent map[string]string
	tokenOutcome map[string]string
	bestAsks     map[string]float64
	askDepths    map[string]float64
	dedup        map[string]dedupEntry
	stats        TrackerStats

	handlerMu sync.RWMutex
	handlers  []OpportunityHandler
}

// NewTracker creates a Tracker with the given thresholds.
func NewTracker(cfg TrackerConfig, logger *slog.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "rebalance_tracker")),
		events:       make(map[string]*trackedEvent),
		tokenToEvent: make(map[string]string),
		tokenOutcome: make(map[string]string),
		bestAsks:     make(map[string]float64),
		askDepths:    make(map[string]float64),
		dedup:        make(map[string]dedupEntry),
	}
}

// OnOpportunity registers a handler for emitted opportunities.
func (t *Tracker) OnOpportunity(h OpportunityHandler) {
	t.handlerMu.Lock()
	t.handlers = append(t.handlers, h)
	t.handlerMu.Unlock()
}

// RegisterEvent registers an event and its outcome tokens. Re-registering
// an event replaces its outcome set; seed asks prime the sum so the event
// can fire before the first feed update arrives.
func (t *Tracker) RegisterEvent(eventID, title string, outcomes []SeedOutcome) {
	var opp *domain.RebalanceOpportunity

	t.mu.Lock()
	if prev, ok := t.events[eventID]; ok {
		for _, tid := range prev.tokens {
			delete(t.tokenToEvent, tid)
			delete(t.tokenOutcome, tid)
		}
	}

	ev := &trackedEvent{title: title, tokens: make([]string, 0, len(outcomes))}
	for _, o := range outcomes {
		t.tokenToEvent[o.TokenID] = eventID
		t.tokenOutcome[o.TokenID] = o.Outcome
		ev.tokens = append(ev.tokens, o.TokenID)
		if o.SeedAsk > 0 {
			t.bestAsks[o.TokenID] = o.SeedAsk
		}
	}
	t.events[eventID] = ev
	t.stats.EventsTracked = len(t.events)
	t.stats.TokensTracked = len(t.tokenToEvent)

	opp = t.recalculateLocked(eventID, time.Now())
	t.mu.Unlock()

	if opp != nil {
		t.fire(*opp)
	}
}

// UpdateBestAsk applies a price-only update, which carries no depth. This
// is the primary data source since price changes arrive far more often
// than book snapshots. Unregistered tokens are ignored.
func (t *Tracker) UpdateBestAsk(tokenID string, bestAsk float64, ts time.Time) {
	if bestAsk <= 0 {
		return
	}

	t.mu.Lock()
	eventID, ok := t.tokenToEvent[tokenID]
	if !ok {
		t.mu.Unlock()
		return
	}
	t.stats.UpdatesProcessed++
	t.bestAsks[tokenID] = bestAsk
	opp := t.recalculateLocked(eventID, ts)
	t.mu.Unlock()

	if opp != nil {
		t.fire(*opp)
	}
}

// UpdateBook applies a full book snapshot: best ask is the lowest ask level
// and depth is the dollar value resting at that price. Unregistered tokens
// are ignored.
func (t *Tracker) UpdateBook(tokenID string, asks []domain.PriceLevel, ts time.Time) {
	bestAsk, depth := bestAskLevel(asks)
	if bestAsk <= 0 {
		return
	}

	t.mu.Lock()
	eventID, ok := t.tokenToEvent[tokenID]
	if !ok {
		t.mu.Unlock()
		return
	}
	t.stats.UpdatesProcessed++
	t.bestAsks[tokenID] = bestAsk
	t.askDepths[tokenID] = depth
	opp := t.recalculateLocked(eventID, ts)
	t.mu.Unlock()

	if opp != nil {
		t.fire(*opp)
	}
}

// EventSum returns the current best-ask sum for an event. The second
// return is false while any outcome is unpriced or the market is dead.
func (t *Tracker) EventSum(eventID string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev, ok := t.events[eventID]
	if !ok || !ev.sumValid {
		return 0, false
	}
	return ev.lastSum, true
}

// RegisteredTokenIDs returns every token the tracker is watching.
func (t *Tracker) RegisteredTokenIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.tokenToEvent))
	for tid := range t.tokenToEvent {
		ids = append(ids, tid)
	}
	return ids
}

// Stats returns a copy of the counters.
func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// recalculateLocked recomputes one event's sum and builds an opportunity
// when it clears every gate. Must be called with the lock held; the caller
// fires the returned opportunity after releasing it.
func (t *Tracker) recalculateLocked(eventID string, ts time.Time) *domain.RebalanceOpportunity {
	ev := t.events[eventID]
	if ev == nil || len(ev.tokens) == 0 {
		return nil
	}

	sum := 0.0
	maxAsk := 0.0
	for _, tid := range ev.tokens {
		ask, ok := t.bestAsks[tid]
		if !ok {
			ev.sumValid = false
			return nil
		}
		sum += ask
		if ask > maxAsk {
			maxAsk = ask
		}
	}

	// A market whose largest ask sits at or below the cutoff has settled;
	// its near-zero sum is not a tradable gap.
	if maxAsk <= t.cfg.DeadAskCutoff {
		ev.sumValid = false
		return nil
	}

	ev.lastSum = sum
	ev.sumValid = true

	if sum >= t.cfg.SumThreshold {
		return nil
	}

	if prev, ok := t.dedup[eventID]; ok {
		if ts.Sub(prev.at) < t.cfg.DedupInterval && math.Abs(sum-prev.sum) < t.cfg.DedupSumMove {
			return nil
		}
	}
	t.dedup[eventID] = dedupEntry{at: ts, sum: sum}

	minDepth := math.Inf(1)
	quotes := make([]domain.OutcomeQuote, 0, len(ev.tokens))
	for _, tid := range ev.tokens {
		depth := t.askDepths[tid]
		if depth < minDepth {
			minDepth = depth
		}
		quotes = append(quotes, domain.OutcomeQuote{
			TokenID: tid,
			Outcome: t.tokenOutcome[tid],
			BestAsk: t.bestAsks[tid],
			Depth:   depth,
		})
	}
	if math.IsInf(minDepth, 1) {
		minDepth = 0
	}

	strong := sum < t.cfg.StrongThreshold
	t.stats.OpportunitiesFound++
	if strong {
		t.stats.StrongOpportunities++
	}

	return &domain.RebalanceOpportunity{
		ID:           uuid.NewString(),
		EventID:      eventID,
		Title:        ev.title,
		Time:         ts,
		OutcomeCount: len(ev.tokens),
		Sum:          sum,
		Gap:          1 - sum,
		GapPct:       (1 - sum) * 100,
		Strong:       strong,
		Executable:   minDepth >= t.cfg.MinDepthUSD,
		MinDepth:     minDepth,
		Outcomes:     quotes,
	}
}

// bestAskLevel finds the lowest ask and the dollar depth resting at that
// price, summing levels that tie at the best.
func bestAskLevel(asks []domain.PriceLevel) (bestAsk, depth float64) {
	for _, lvl := range asks {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		switch {
		case bestAsk == 0 || lvl.Price < bestAsk:
			bestAsk = lvl.Price
			depth = lvl.Price * lvl.Size
		case math.Abs(lvl.Price-bestAsk) < 1e-9:
			depth += lvl.Price * lvl.Size
		}
	}
	return bestAsk, depth
}

// fire dispatches to registered handlers, isolating panics.
func (t *Tracker) fire(opp domain.RebalanceOpportunity) {
	t.handlerMu.RLock()
	handlers := make([]OpportunityHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.handlerMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("opportunity handler panic",
						slog.Any("panic", r),
						slog.String("event_id", opp.EventID))
				}
			}()
			h(opp)
		}()
	}
}
