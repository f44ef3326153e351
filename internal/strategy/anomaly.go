package strategy

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// DetectorConfig controls the anomaly thresholds. Zero fields fall back to
// the defaults below.
type DetectorConfig struct {
	PriceThreshold     float64
	PriceWindow        time.Duration
	WindowGrace        time.Duration
	SpreadThreshold    float64
	YesNoThreshold     float64
	EscalationCooldown time.Duration
	MinBid             float64
	MaxAsk             float64
}

func (c *DetectorConfig) applyDefaults() {
	if c.PriceThreshold <= 0 {
		c.PriceThreshold = 0.05
	}
	if c.PriceWindow <= 0 {
		c.PriceWindow = 5 * time.Minute
	}
	if c.WindowGrace <= 0 {
		c.WindowGrace = time.Minute
	}
	if c.SpreadThreshold <= 0 {
		c.SpreadThreshold = 0.05
	}
	if c.YesNoThreshold <= 0 {
		c.YesNoThreshold = 0.03
	}
	if c.EscalationCooldown <= 0 {
		c.EscalationCooldown = 30 * time.Minute
	}
	if c.MinBid <= 0 {
		c.MinBid = 0.02
	}
	if c.MaxAsk <= 0 {
		c.MaxAsk = 0.98
	}
}

// AnomalyHandler receives detected anomalies. Handlers run outside the
// detector's lock and may block without stalling detection.
type AnomalyHandler func(domain.Anomaly)

// DetectorStats are monotonic counters exposed for status logging.
type DetectorStats struct {
	PricesProcessed int64
	BooksProcessed  int64
	PriceAnomalies  int64
	SpreadAnomalies int64
	YesNoAnomalies  int64
	Escalations     int64
	CooldownBlocks  int64
}

type outcomeKey struct {
	gameKey    string
	marketType domain.MarketType
	outcome    string
}

type pairKey struct {
	gameKey    string
	marketType domain.MarketType
}

// Detector watches feed prices and orderbooks for signals strong enough to
// justify a sportsbook lookup: sharp price moves inside a short window,
// wide bid/ask spreads, and two-sided price pairs drifting away from 1.
type Detector struct {
	cfg    DetectorConfig
	logger *slog.Logger

	mu        sync.Mutex
	windows   map[outcomeKey]*PriceWindow
	pairs     map[pairKey]map[string]float64
	escalated map[string]time.Time
	stats     DetectorStats

	handlerMu sync.RWMutex
	handlers  []AnomalyHandler
}

// NewDetector creates a Detector with the given thresholds.
func NewDetector(cfg DetectorConfig, logger *slog.Logger) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "anomaly_detector")),
		windows:   make(map[outcomeKey]*PriceWindow),
		pairs:     make(map[pairKey]map[string]float64),
		escalated: make(map[string]time.Time),
	}
}

// OnAnomaly registers a handler for detected anomalies.
func (d *Detector) OnAnomaly(h AnomalyHandler) {
	d.handlerMu.Lock()
	d.handlers = append(d.handlers, h)
	d.handlerMu.Unlock()
}

// NormalizeOutcome folds the two sides of a binary market onto yes/no:
// yes/over/home become "yes", no/under/away become "no", anything else
// passes through lowercased.
func NormalizeOutcome(outcome string) string {
	switch s := strings.ToLower(outcome); s {
	case "yes", "over", "home":
		return "yes"
	case "no", "under", "away":
		return "no"
	default:
		return s
	}
}

// UpdatePrice records a price observation and runs the price-change and
// yes/no deviation checks in that order, returning the first anomaly found.
// The matching handler calls happen after the lock is released.
func (d *Detector) UpdatePrice(gameKey string, marketType domain.MarketType, outcome string, price float64, ts time.Time) *domain.Anomaly {
	key := outcomeKey{gameKey: gameKey, marketType: marketType, outcome: outcome}
	pk := pairKey{gameKey: gameKey, marketType: marketType}

	d.mu.Lock()
	d.stats.PricesProcessed++

	w, ok := d.windows[key]
	if !ok {
		w = NewPriceWindow(d.cfg.PriceWindow, d.cfg.WindowGrace)
		d.windows[key] = w
	}
	w.Add(price, ts)

	pair, ok := d.pairs[pk]
	if !ok {
		pair = make(map[string]float64, 2)
		d.pairs[pk] = pair
	}
	pair[NormalizeOutcome(outcome)] = price

	anomaly := d.checkPriceChange(key, w, price, ts)
	if anomaly == nil {
		anomaly = d.checkYesNoDeviation(pk, pair, ts)
	}
	d.mu.Unlock()

	if anomaly != nil {
		d.fire(*anomaly)
	}
	return anomaly
}

// UpdateOrderbook records a book top and fires a wide-spread anomaly when
// the spread reaches the threshold. Books where the market is effectively
// decided (bid at or below MinBid, ask at or above MaxAsk) are ignored to
// avoid false positives near settlement.
func (d *Detector) UpdateOrderbook(gameKey string, marketType domain.MarketType, outcome string, bestBid, bestAsk float64, ts time.Time) *domain.Anomaly {
	d.mu.Lock()
	d.stats.BooksProcessed++

	if bestBid <= d.cfg.MinBid || bestAsk >= d.cfg.MaxAsk {
		d.mu.Unlock()
		return nil
	}

	spread := bestAsk - bestBid
	if spread < d.cfg.SpreadThreshold {
		d.mu.Unlock()
		return nil
	}

	d.stats.SpreadAnomalies++
	anomaly := &domain.Anomaly{
		Type:       domain.AnomalyWideSpread,
		GameKey:    gameKey,
		MarketType: marketType,
		Outcome:    outcome,
		Time:       ts,
		Details: domain.AnomalyDetails{
			BestBid: bestBid,
			BestAsk: bestAsk,
			Spread:  spread,
		},
	}
	d.mu.Unlock()

	d.fire(*anomaly)
	return anomaly
}

// ShouldEscalate reports whether the game is outside its escalation
// cooldown. Callers that act on the answer should use TryEscalate instead;
// check-then-mark across two calls races with concurrent updates.
func (d *Detector) ShouldEscalate(gameKey string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shouldEscalateLocked(gameKey, now)
}

// MarkEscalated starts the cooldown window for a game.
func (d *Detector) MarkEscalated(gameKey string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.escalated[gameKey] = now
	d.stats.Escalations++
}

// TryEscalate atomically checks the cooldown and, when clear, marks the
// game escalated. Exactly one of several concurrent callers wins.
func (d *Detector) TryEscalate(gameKey string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.shouldEscalateLocked(gameKey, now) {
		return false
	}
	d.escalated[gameKey] = now
	d.stats.Escalations++
	return true
}

// Stats returns a copy of the counters.
func (d *Detector) Stats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Detector) shouldEscalateLocked(gameKey string, now time.Time) bool {
	last, ok := d.escalated[gameKey]
	if ok && now.Sub(last) < d.cfg.EscalationCooldown {
		d.stats.CooldownBlocks++
		return false
	}
	return true
}

// checkPriceChange fires when the price moved by at least the threshold
// against the window anchor. Threshold comparison is inclusive.
func (d *Detector) checkPriceChange(key outcomeKey, w *PriceWindow, price float64, ts time.Time) *domain.Anomaly {
	anchor, ok := w.Anchor(ts)
	if !ok {
		return nil
	}
	delta := price - anchor
	if math.Abs(delta) < d.cfg.PriceThreshold {
		return nil
	}
	d.stats.PriceAnomalies++
	return &domain.Anomaly{
		Type:       domain.AnomalyPriceChange,
		GameKey:    key.gameKey,
		MarketType: key.marketType,
		Outcome:    key.outcome,
		Time:       ts,
		Details: domain.AnomalyDetails{
			OldPrice:      anchor,
			NewPrice:      price,
			Delta:         delta,
			WindowSeconds: d.cfg.PriceWindow.Seconds(),
		},
	}
}

// checkYesNoDeviation fires when both normalized sides are known and their
// sum deviates from 1 by at least the threshold.
func (d *Detector) checkYesNoDeviation(pk pairKey, pair map[string]float64, ts time.Time) *domain.Anomaly {
	yes, okYes := pair["yes"]
	no, okNo := pair["no"]
	if !okYes || !okNo {
		return nil
	}
	total := yes + no
	deviation := math.Abs(1 - total)
	if deviation < d.cfg.YesNoThreshold {
		return nil
	}
	d.stats.YesNoAnomalies++
	return &domain.Anomaly{
		Type:       domain.AnomalyYesNoImbalance,
		GameKey:    pk.gameKey,
		MarketType: pk.marketType,
		Time:       ts,
		Details: domain.AnomalyDetails{
			YesPrice:  yes,
			NoPrice:   no,
			Total:     total,
			Deviation: deviation,
			// Both sides together costing under 0.99 leaves room for
			// fees on a buy-both position.
			ArbitrageOpportunity: total < 0.99,
		},
	}
}

// fire dispatches to registered handlers, isolating panics so one bad
// consumer cannot take down the feed loop.
func (d *Detector) fire(a domain.Anomaly) {
	d.handlerMu.RLock()
	handlers := make([]AnomalyHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.handlerMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("anomaly handler panic",
						slog.Any("panic", r),
						slog.String("game_key", a.GameKey),
						slog.String("type", string(a.Type)))
				}
			}()
			h(a)
		}()
	}
}
