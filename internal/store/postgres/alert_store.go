package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL. The per-outcome
// quotes are stored as a JSONB column since they are written and read as a
// unit and never queried individually.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Insert stores a verified rebalance opportunity. Re-inserting the same id
// is a no-op.
func (s *AlertStore) Insert(ctx context.Context, opp domain.RebalanceOpportunity) error {
	outcomes, err := json.Marshal(opp.Outcomes)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert outcomes: %w", err)
	}

	const query = `
		INSERT INTO rebalance_alerts (
			id, event_id, title, ts, outcome_count, sum, gap, gap_pct,
			strong, executable, min_depth_usd, outcomes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, opp.EventID, opp.Title, opp.Time, opp.OutcomeCount,
		opp.Sum, opp.Gap, opp.GapPct, opp.Strong, opp.Executable,
		opp.MinDepth, outcomes,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert rebalance alert: %w", err)
	}
	return nil
}

const alertSelectCols = `id, event_id, title, ts, outcome_count, sum, gap,
	gap_pct, strong, executable, min_depth_usd, outcomes`

func scanAlertRows(rows pgx.Rows) ([]domain.RebalanceOpportunity, error) {
	var alerts []domain.RebalanceOpportunity
	for rows.Next() {
		var (
			opp      domain.RebalanceOpportunity
			outcomes []byte
		)
		if err := rows.Scan(
			&opp.ID, &opp.EventID, &opp.Title, &opp.Time, &opp.OutcomeCount,
			&opp.Sum, &opp.Gap, &opp.GapPct, &opp.Strong, &opp.Executable,
			&opp.MinDepth, &outcomes,
		); err != nil {
			return nil, err
		}
		if len(outcomes) > 0 {
			if err := json.Unmarshal(outcomes, &opp.Outcomes); err != nil {
				return nil, fmt.Errorf("unmarshal alert outcomes: %w", err)
			}
		}
		alerts = append(alerts, opp)
	}
	return alerts, rows.Err()
}

// ListRecent returns the newest alerts up to limit.
func (s *AlertStore) ListRecent(ctx context.Context, limit int) ([]domain.RebalanceOpportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertSelectCols + ` FROM rebalance_alerts
		ORDER BY ts DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent alerts: %w", err)
	}
	alerts, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent alerts: %w", err)
	}
	return alerts, nil
}

// ListBefore returns alerts older than the cutoff, oldest first, for
// archival.
func (s *AlertStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RebalanceOpportunity, error) {
	query := `SELECT ` + alertSelectCols + ` FROM rebalance_alerts
		WHERE ts < $1 ORDER BY ts ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts before: %w", err)
	}
	alerts, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts before: %w", err)
	}
	return alerts, nil
}

// DeleteBefore removes alerts older than the cutoff and returns the number
// of rows deleted.
func (s *AlertStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM rebalance_alerts WHERE ts < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}
