package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// TriggerStore implements domain.TriggerStore using PostgreSQL.
type TriggerStore struct {
	pool *pgxpool.Pool
}

// NewTriggerStore creates a new TriggerStore backed by the given pool.
func NewTriggerStore(pool *pgxpool.Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

const triggerSelectCols = `id, game_key, ts, trigger_type, prev_line, new_line,
	delta_line, prev_implied, new_implied, delta_implied, poly_price, gap,
	gap_closed_at, lag_seconds`

func scanTriggerRows(rows pgx.Rows) ([]domain.Trigger, error) {
	var triggers []domain.Trigger
	for rows.Next() {
		var t domain.Trigger
		if err := rows.Scan(
			&t.ID, &t.GameKey, &t.Time, &t.Type,
			&t.PrevLine, &t.NewLine, &t.DeltaLine,
			&t.PrevImplied, &t.NewImplied, &t.DeltaImplied,
			&t.PolyPrice, &t.Gap, &t.GapClosedAt, &t.LagSeconds,
		); err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// Insert stores a new trigger. The id must be unique.
func (s *TriggerStore) Insert(ctx context.Context, t domain.Trigger) error {
	const query = `
		INSERT INTO triggers (
			id, game_key, ts, trigger_type, prev_line, new_line, delta_line,
			prev_implied, new_implied, delta_implied, poly_price, gap,
			gap_closed_at, lag_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.GameKey, t.Time, t.Type,
		t.PrevLine, t.NewLine, t.DeltaLine,
		t.PrevImplied, t.NewImplied, t.DeltaImplied,
		t.PolyPrice, t.Gap, t.GapClosedAt, t.LagSeconds,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trigger: %w", err)
	}
	return nil
}

// GetByID returns a single trigger, or domain.ErrNotFound.
func (s *TriggerStore) GetByID(ctx context.Context, id string) (domain.Trigger, error) {
	query := `SELECT ` + triggerSelectCols + ` FROM triggers WHERE id = $1`

	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("postgres: get trigger: %w", err)
	}
	triggers, err := scanTriggerRows(rows)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("postgres: scan trigger: %w", err)
	}
	if len(triggers) == 0 {
		return domain.Trigger{}, fmt.Errorf("postgres: trigger %s: %w", id, domain.ErrNotFound)
	}
	return triggers[0], nil
}

// ListOpen returns all triggers whose gap has not converged yet, oldest
// first so the convergence sweep closes them in trigger order.
func (s *TriggerStore) ListOpen(ctx context.Context) ([]domain.Trigger, error) {
	query := `SELECT ` + triggerSelectCols + ` FROM triggers
		WHERE gap_closed_at IS NULL ORDER BY ts ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open triggers: %w", err)
	}
	triggers, err := scanTriggerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open triggers: %w", err)
	}
	return triggers, nil
}

// CloseGap marks a trigger converged. Already-closed triggers are left
// untouched so the first close wins.
func (s *TriggerStore) CloseGap(ctx context.Context, id string, closedAt time.Time, lagSeconds float64) error {
	const query = `
		UPDATE triggers SET gap_closed_at = $2, lag_seconds = $3
		WHERE id = $1 AND gap_closed_at IS NULL`

	_, err := s.pool.Exec(ctx, query, id, closedAt, lagSeconds)
	if err != nil {
		return fmt.Errorf("postgres: close trigger gap: %w", err)
	}
	return nil
}

// ListByGame returns triggers for a game with pagination and optional time
// filtering, newest first.
func (s *TriggerStore) ListByGame(ctx context.Context, gameKey string, opts domain.ListOpts) ([]domain.Trigger, error) {
	query := `SELECT ` + triggerSelectCols + ` FROM triggers WHERE game_key = $1`
	args := []any{gameKey}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list triggers by game: %w", err)
	}
	triggers, err := scanTriggerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan triggers by game: %w", err)
	}
	return triggers, nil
}

// ListClosedBefore returns converged triggers older than the cutoff, for
// archival.
func (s *TriggerStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trigger, error) {
	query := `SELECT ` + triggerSelectCols + ` FROM triggers
		WHERE gap_closed_at IS NOT NULL AND ts < $1 ORDER BY ts ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed triggers: %w", err)
	}
	triggers, err := scanTriggerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed triggers: %w", err)
	}
	return triggers, nil
}

// DeleteClosedBefore removes converged triggers older than the cutoff and
// returns the number of rows deleted.
func (s *TriggerStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM triggers WHERE gap_closed_at IS NOT NULL AND ts < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed triggers: %w", err)
	}
	return tag.RowsAffected(), nil
}
