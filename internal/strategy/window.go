// Package strategy holds the in-memory detection components that turn raw
// feed updates into anomalies and rebalance opportunities.
package strategy

import "time"

// PricePoint records a single price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// PriceWindow maintains a sliding time-window of price observations for a
// single subscription. It is not safe for concurrent use; the owning
// detector serializes access under its own lock.
type PriceWindow struct {
	window time.Duration
	grace  time.Duration
	points []PricePoint
	latest time.Time
}

// NewPriceWindow creates a window that retains samples for window+grace.
// The grace period keeps just-expired samples around so the oldest-sample
// fallback anchor stays available across slow feeds.
func NewPriceWindow(window, grace time.Duration) *PriceWindow {
	return &PriceWindow{window: window, grace: grace}
}

// Add appends an observation and evicts samples older than the retention
// horizon. Eviction is monotonic: the horizon is derived from the latest
// timestamp seen, so an out-of-order sample never resurrects old data.
func (w *PriceWindow) Add(price float64, ts time.Time) {
	w.points = append(w.points, PricePoint{Price: price, Time: ts})
	if ts.After(w.latest) {
		w.latest = ts
	}

	cutoff := w.latest.Add(-(w.window + w.grace))
	kept := w.points[:0]
	for _, p := range w.points {
		if !p.Time.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	w.points = kept
}

// Anchor returns the reference price for a delta computation at now: the
// first sample at or after now−window scanning from the oldest, or the
// oldest retained sample when none falls inside the window. The second
// return is false when fewer than two samples exist.
func (w *PriceWindow) Anchor(now time.Time) (float64, bool) {
	if len(w.points) < 2 {
		return 0, false
	}
	cutoff := now.Add(-w.window)
	for _, p := range w.points {
		if !p.Time.Before(cutoff) {
			return p.Price, true
		}
	}
	return w.points[0].Price, true
}

// Latest returns the most recently appended observation.
func (w *PriceWindow) Latest() (PricePoint, bool) {
	if len(w.points) == 0 {
		return PricePoint{}, false
	}
	return w.points[len(w.points)-1], true
}

// Len reports the number of retained samples.
func (w *PriceWindow) Len() int {
	return len(w.points)
}
