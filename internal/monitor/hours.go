// Package monitor wires the detection components into the two top-level
// control loops: the oracle lag monitor and the rebalance monitor.
package monitor

import (
	"fmt"
	"time"
)

// ActiveHours gates monitoring to a daily window in a fixed timezone. The
// window may cross midnight: start 10 and end 3 means 10:00 through 03:00
// the next morning.
type ActiveHours struct {
	startHour int
	endHour   int
	loc       *time.Location
}

// NewActiveHours builds the window for the given timezone name.
func NewActiveHours(startHour, endHour int, tz string) (*ActiveHours, error) {
	if startHour < 0 || startHour > 23 || endHour < 0 || endHour > 23 {
		return nil, fmt.Errorf("monitor: active hours out of range: %d-%d", startHour, endHour)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("monitor: load timezone %q: %w", tz, err)
	}
	return &ActiveHours{startHour: startHour, endHour: endHour, loc: loc}, nil
}

// Active reports whether t falls inside the window.
func (a *ActiveHours) Active(t time.Time) bool {
	hour := t.In(a.loc).Hour()
	if a.startHour <= a.endHour {
		return hour >= a.startHour && hour < a.endHour
	}
	return hour >= a.startHour || hour < a.endHour
}

// NextStart returns the next time the window opens at or after t. When t is
// already inside the window, it still returns the next opening.
func (a *ActiveHours) NextStart(t time.Time) time.Time {
	local := t.In(a.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), a.startHour, 0, 0, 0, a.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Location returns the timezone the window is evaluated in.
func (a *ActiveHours) Location() *time.Location {
	return a.loc
}

// UntilStart returns how long until the window next opens.
func (a *ActiveHours) UntilStart(t time.Time) time.Duration {
	return a.NextStart(t).Sub(t)
}
