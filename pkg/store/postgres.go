// postgres.go implements CallStore and TranscriptSink on a pgx connection
// pool.
//
// Schema (managed by the call-control service, not here):
//
//	CREATE TABLE calls (
//	    call_id     text PRIMARY KEY,
//	    destination text NOT NULL,
//	    goal        text NOT NULL DEFAULT '',
//	    voice       text NOT NULL DEFAULT '',
//	    created_at  timestamptz NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE transcripts (
//	    id       bigserial PRIMARY KEY,
//	    call_id  text NOT NULL,
//	    role     text NOT NULL,
//	    text     text NOT NULL,
//	    spoken_at timestamptz NOT NULL
//	);

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements CallStore and TranscriptSink on Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to databaseURL and verifies the
// connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// GetCall implements CallStore.
func (s *PostgresStore) GetCall(ctx context.Context, id string) (*CallRecord, error) {
	var rec CallRecord
	err := s.pool.QueryRow(ctx,
		`SELECT call_id, destination, goal, voice, created_at FROM calls WHERE call_id = $1`,
		id,
	).Scan(&rec.CallID, &rec.Destination, &rec.Goal, &rec.Voice, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query call %s: %w", id, err)
	}
	return &rec, nil
}

// Append implements TranscriptSink.
func (s *PostgresStore) Append(ctx context.Context, e TranscriptEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (call_id, role, text, spoken_at) VALUES ($1, $2, $3, $4)`,
		e.CallID, e.Role, e.Text, e.At,
	)
	if err != nil {
		return fmt.Errorf("append transcript for %s: %w", e.CallID, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

var (
	_ CallStore      = (*PostgresStore)(nil)
	_ TranscriptSink = (*PostgresStore)(nil)
)
