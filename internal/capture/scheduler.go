// Package capture records high-resolution price series around oracle moves:
// a t0 anchor plus delayed samples at fixed offsets, answering whether a gap
// is still tradable a few seconds after the move.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// PriceGetter returns the current Polymarket price for an outcome, or false
// when no live price is known.
type PriceGetter func(gameKey string, marketType domain.MarketType, outcome string) (float64, bool)

// BookGetter returns the current top of book and dollar depth for an
// outcome, or false when no book is known.
type BookGetter func(gameKey string, marketType domain.MarketType, outcome string) (bid, ask, depth float64, ok bool)

// Stats are monotonic capture counters.
type Stats struct {
	Scheduled int64
	Completed int64
	Failed    int64
}

// Scheduler persists move events and schedules their follow-up captures.
// Each offset runs as its own goroutine: a missing sample at one offset
// never blocks the later ones.
type Scheduler struct {
	store   domain.MoveEventStore
	offsets []time.Duration
	logger  *slog.Logger

	mu            sync.RWMutex
	prices        PriceGetter
	books         BookGetter
	actionableGap float64

	wg        sync.WaitGroup
	scheduled atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// DefaultOffsets are the capture delays after a move.
var DefaultOffsets = []time.Duration{3 * time.Second, 10 * time.Second, 30 * time.Second}

// DefaultActionableGap is the residual gap above which a sample is called
// out in the logs as still tradable.
const DefaultActionableGap = 0.04

// NewScheduler creates a Scheduler writing to the given store. Nil or empty
// offsets fall back to DefaultOffsets.
func NewScheduler(store domain.MoveEventStore, offsets []time.Duration, logger *slog.Logger) *Scheduler {
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	return &Scheduler{
		store:         store,
		offsets:       offsets,
		actionableGap: DefaultActionableGap,
		logger:        logger.With(slog.String("component", "capture")),
	}
}

// SetPriceGetter injects the live price source. Must be set before
// ScheduleCaptures is called.
func (s *Scheduler) SetPriceGetter(fn PriceGetter) {
	s.mu.Lock()
	s.prices = fn
	s.mu.Unlock()
}

// SetBookGetter injects an optional top-of-book source for bid/ask/depth
// columns on each sample.
func (s *Scheduler) SetBookGetter(fn BookGetter) {
	s.mu.Lock()
	s.books = fn
	s.mu.Unlock()
}

// SetActionableGap overrides the gap size a sample must keep to be logged as
// actionable. Non-positive values are ignored.
func (s *Scheduler) SetActionableGap(gap float64) {
	if gap <= 0 {
		return
	}
	s.mu.Lock()
	s.actionableGap = gap
	s.mu.Unlock()
}

// RecordTrigger persists the t0 anchor for a move: the oracle delta, the
// live Polymarket price at trigger time and the resulting gap. It returns
// the move event id used to schedule follow-up captures.
func (s *Scheduler) RecordTrigger(ctx context.Context, ev domain.MoveEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	ev.OracleDelta = ev.OracleNewImp - ev.OraclePrevImp
	ev.T0Gap = math.Abs(ev.RefPrice - ev.T0Price)

	if err := s.store.InsertMoveEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("capture: insert move event: %w", err)
	}

	t0 := domain.CaptureSample{
		MoveEventID: ev.ID,
		OffsetSec:   0,
		Price:       ev.T0Price,
		Gap:         ev.T0Gap,
		Time:        ev.Time,
	}
	if err := s.store.InsertSample(ctx, t0); err != nil {
		return "", fmt.Errorf("capture: insert t0 sample: %w", err)
	}
	return ev.ID, nil
}

// ScheduleCaptures launches one capture goroutine per configured offset for
// the given move event. refImplied is the oracle implied probability the
// gap is measured against.
func (s *Scheduler) ScheduleCaptures(ctx context.Context, moveEventID, gameKey string, marketType domain.MarketType, outcome string, refImplied float64) {
	s.mu.RLock()
	getter := s.prices
	s.mu.RUnlock()
	if getter == nil {
		s.logger.Warn("no price getter set, skipping captures",
			slog.String("move_event_id", moveEventID))
		return
	}

	for _, offset := range s.offsets {
		s.scheduled.Add(1)
		s.wg.Add(1)
		go func(offset time.Duration) {
			defer s.wg.Done()
			s.captureAtOffset(ctx, moveEventID, gameKey, marketType, outcome, refImplied, offset)
		}(offset)
	}
}

// Wait blocks until every in-flight capture has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled: s.scheduled.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Scheduler) captureAtOffset(ctx context.Context, moveEventID, gameKey string, marketType domain.MarketType, outcome string, refImplied float64, offset time.Duration) {
	timer := time.NewTimer(offset)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.RLock()
	getter := s.prices
	bookGetter := s.books
	actionable := s.actionableGap
	s.mu.RUnlock()

	price, ok := getter(gameKey, marketType, outcome)
	if !ok {
		s.failed.Add(1)
		s.logger.Debug("no live price at offset",
			slog.String("move_event_id", moveEventID),
			slog.Duration("offset", offset))
		return
	}

	sample := domain.CaptureSample{
		MoveEventID: moveEventID,
		OffsetSec:   offset.Seconds(),
		Price:       price,
		Gap:         math.Abs(refImplied - price),
		Time:        time.Now().UTC(),
	}
	if bookGetter != nil {
		if bid, ask, depth, ok := bookGetter(gameKey, marketType, outcome); ok {
			sample.Bid = bid
			sample.Ask = ask
			sample.Depth = depth
		}
	}

	if err := s.store.InsertSample(ctx, sample); err != nil {
		s.failed.Add(1)
		s.logger.Error("insert capture sample",
			slog.String("move_event_id", moveEventID),
			slog.Duration("offset", offset),
			slog.Any("error", err))
		return
	}
	s.completed.Add(1)

	if sample.Gap >= actionable {
		s.logger.Info("actionable gap after move",
			slog.String("move_event_id", moveEventID),
			slog.Duration("offset", offset),
			slog.Float64("gap", sample.Gap),
			slog.Float64("price", price))
	}
}
