package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// HiResStore implements domain.MoveEventStore using PostgreSQL. Move events
// anchor a capture series; samples land in gap_series_hi_res keyed by the
// move event id and offset.
type HiResStore struct {
	pool *pgxpool.Pool
}

// NewHiResStore creates a new HiResStore backed by the given pool.
func NewHiResStore(pool *pgxpool.Pool) *HiResStore {
	return &HiResStore{pool: pool}
}

// InsertMoveEvent stores the t0 anchor row for a capture series.
func (s *HiResStore) InsertMoveEvent(ctx context.Context, ev domain.MoveEvent) error {
	const query = `
		INSERT INTO move_events_hi_res (
			id, game_key, market_type, token_id, outcome_name,
			trigger_source, ts, poly_line, oracle_line,
			oracle_prev_implied, oracle_new_implied, oracle_delta,
			ref_price, t0_price, t0_gap
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.GameKey, ev.MarketType, ev.TokenID, ev.OutcomeName,
		ev.Source, ev.Time, ev.PolyLine, ev.OracleLine,
		ev.OraclePrevImp, ev.OracleNewImp, ev.OracleDelta,
		ev.RefPrice, ev.T0Price, ev.T0Gap,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert move event: %w", err)
	}
	return nil
}

// InsertSample stores one offset sample of a capture series.
func (s *HiResStore) InsertSample(ctx context.Context, sample domain.CaptureSample) error {
	const query = `
		INSERT INTO gap_series_hi_res (
			move_event_id, offset_sec, price, gap, bid, ask, depth, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		sample.MoveEventID, sample.OffsetSec, sample.Price, sample.Gap,
		sample.Bid, sample.Ask, sample.Depth, sample.Time,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert capture sample: %w", err)
	}
	return nil
}

// ListSamples returns a move event's capture series ordered by offset.
func (s *HiResStore) ListSamples(ctx context.Context, moveEventID string) ([]domain.CaptureSample, error) {
	const query = `
		SELECT move_event_id, offset_sec, price, gap, bid, ask, depth, ts
		FROM gap_series_hi_res WHERE move_event_id = $1 ORDER BY offset_sec ASC`

	rows, err := s.pool.Query(ctx, query, moveEventID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list capture samples: %w", err)
	}
	samples, err := scanSampleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan capture samples: %w", err)
	}
	return samples, nil
}

// ListMoveEvents returns move events for a game, newest first.
func (s *HiResStore) ListMoveEvents(ctx context.Context, gameKey string, opts domain.ListOpts) ([]domain.MoveEvent, error) {
	query := `
		SELECT id, game_key, market_type, token_id, outcome_name,
			trigger_source, ts, poly_line, oracle_line,
			oracle_prev_implied, oracle_new_implied, oracle_delta,
			ref_price, t0_price, t0_gap
		FROM move_events_hi_res WHERE game_key = $1`
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
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list move events: %w", err)
	}
	defer rows.Close()

	var events []domain.MoveEvent
	for rows.Next() {
		var ev domain.MoveEvent
		if err := rows.Scan(
			&ev.ID, &ev.GameKey, &ev.MarketType, &ev.TokenID, &ev.OutcomeName,
			&ev.Source, &ev.Time, &ev.PolyLine, &ev.OracleLine,
			&ev.OraclePrevImp, &ev.OracleNewImp, &ev.OracleDelta,
			&ev.RefPrice, &ev.T0Price, &ev.T0Gap,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan move event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate move events: %w", err)
	}
	return events, nil
}

func scanSampleRows(rows pgx.Rows) ([]domain.CaptureSample, error) {
	var samples []domain.CaptureSample
	for rows.Next() {
		var s domain.CaptureSample
		if err := rows.Scan(
			&s.MoveEventID, &s.OffsetSec, &s.Price, &s.Gap,
			&s.Bid, &s.Ask, &s.Depth, &s.Time,
		); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
