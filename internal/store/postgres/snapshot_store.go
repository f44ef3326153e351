package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert stores one line snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.LineSnapshot) error {
	const query = `
		INSERT INTO line_snapshots (game_key, source, market_type, line, implied, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		snap.GameKey, snap.Source, snap.MarketType, snap.Line, snap.Implied, snap.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert line snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot for the game from the given
// source, or domain.ErrNotFound when none exists.
func (s *SnapshotStore) Latest(ctx context.Context, gameKey string, source domain.SnapshotSource) (domain.LineSnapshot, error) {
	const query = `
		SELECT game_key, source, market_type, line, implied, ts
		FROM line_snapshots
		WHERE game_key = $1 AND source = $2
		ORDER BY ts DESC LIMIT 1`

	var snap domain.LineSnapshot
	err := s.pool.QueryRow(ctx, query, gameKey, source).Scan(
		&snap.GameKey, &snap.Source, &snap.MarketType,
		&snap.Line, &snap.Implied, &snap.Time,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LineSnapshot{}, fmt.Errorf("postgres: snapshot %s/%s: %w", gameKey, source, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LineSnapshot{}, fmt.Errorf("postgres: get latest snapshot: %w", err)
	}
	return snap, nil
}
