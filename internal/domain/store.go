package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TriggerStore persists oracle move triggers and their convergence state.
type TriggerStore interface {
	Insert(ctx context.Context, t Trigger) error
	GetByID(ctx context.Context, id string) (Trigger, error)
	ListOpen(ctx context.Context) ([]Trigger, error)
	// CloseGap marks a trigger converged. It must be a no-op for triggers
	// that are already closed.
	CloseGap(ctx context.Context, id string, closedAt time.Time, lagSeconds float64) error
	ListByGame(ctx context.Context, gameKey string, opts ListOpts) ([]Trigger, error)
}

// MoveEventStore persists high-resolution capture anchors and samples.
type MoveEventStore interface {
	InsertMoveEvent(ctx context.Context, ev MoveEvent) error
	InsertSample(ctx context.Context, s CaptureSample) error
	ListSamples(ctx context.Context, moveEventID string) ([]CaptureSample, error)
	ListMoveEvents(ctx context.Context, gameKey string, opts ListOpts) ([]MoveEvent, error)
}

// SnapshotStore persists oracle and Polymarket line snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, s LineSnapshot) error
	// Latest returns the most recent snapshot for the game from the given
	// source, or ErrNotFound when none exists.
	Latest(ctx context.Context, gameKey string, source SnapshotSource) (LineSnapshot, error)
}

// AlertStore persists verified rebalance opportunities.
type AlertStore interface {
	Insert(ctx context.Context, opp RebalanceOpportunity) error
	ListRecent(ctx context.Context, limit int) ([]RebalanceOpportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]RebalanceOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TriggerArchiveStore is the narrow trigger access the archiver needs.
type TriggerArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]Trigger, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}
