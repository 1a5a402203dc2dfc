package activity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlActivityLog = `
CREATE TABLE IF NOT EXISTS activity_log (
    id              UUID         PRIMARY KEY,
    activity        TEXT         NOT NULL,
    native_language TEXT         NOT NULL DEFAULT '',
    provider        TEXT         NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ  NOT NULL,
    ended_at        TIMESTAMPTZ  NOT NULL,
    blocks_sent     BIGINT       NOT NULL DEFAULT 0,
    frames_sent     BIGINT       NOT NULL DEFAULT 0,
    chunks_played   BIGINT       NOT NULL DEFAULT 0,
    interruptions   BIGINT       NOT NULL DEFAULT 0,
    end_state       TEXT         NOT NULL,
    error           TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_activity_log_ended_at
    ON activity_log (ended_at DESC);
`

// Migrate creates the activity_log table if it does not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlActivityLog); err != nil {
		return fmt.Errorf("activity migrate: %w", err)
	}
	return nil
}

// PostgresStore is a [Store] backed by the activity_log table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, pings the database and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("activity store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("activity store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("activity store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	const q = `
		INSERT INTO activity_log
		    (id, activity, native_language, provider, started_at, ended_at,
		     blocks_sent, frames_sent, chunks_played, interruptions, end_state, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
		    ended_at      = EXCLUDED.ended_at,
		    blocks_sent   = EXCLUDED.blocks_sent,
		    frames_sent   = EXCLUDED.frames_sent,
		    chunks_played = EXCLUDED.chunks_played,
		    interruptions = EXCLUDED.interruptions,
		    end_state     = EXCLUDED.end_state,
		    error         = EXCLUDED.error`

	_, err := s.pool.Exec(ctx, q,
		r.ID,
		r.Activity,
		r.NativeLanguage,
		r.Provider,
		r.StartedAt,
		r.EndedAt,
		r.BlocksSent,
		r.FramesSent,
		r.ChunksPlayed,
		r.Interruptions,
		r.EndState,
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("activity store: save: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, activity, native_language, provider, started_at, ended_at,
		       blocks_sent, frames_sent, chunks_played, interruptions, end_state, error
		FROM   activity_log
		ORDER  BY ended_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("activity store: recent: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(
			&r.ID,
			&r.Activity,
			&r.NativeLanguage,
			&r.Provider,
			&r.StartedAt,
			&r.EndedAt,
			&r.BlocksSent,
			&r.FramesSent,
			&r.ChunksPlayed,
			&r.Interruptions,
			&r.EndState,
			&r.Error,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("activity store: scan: %w", err)
	}
	return records, nil
}
