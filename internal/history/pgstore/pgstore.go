// Package pgstore implements history.Store over PostgreSQL via
// jackc/pgx/v5's connection pool, for multi-instance deployments that
// share one durable history behind agentcore, grounded on the teacher's
// internal/common/database pool-construction pattern.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kandev/agentcore/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_history (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	data       JSONB NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_history_timestamp ON event_history(timestamp);
`

// Store is a PostgreSQL-backed history.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, configures a pool, and runs the schema migration.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

var _ history.Store = (*Store)(nil)

// Append inserts rec, replacing any existing row with the same id.
func (s *Store) Append(ctx context.Context, rec history.Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("pgstore: marshal data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO event_history (id, type, source_id, data, timestamp) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, source_id = EXCLUDED.source_id, data = EXCLUDED.data, timestamp = EXCLUDED.timestamp`,
		rec.ID, rec.Type, rec.SourceID, data, rec.Timestamp,
	)
	return err
}

// Recent returns up to limit records, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, source_id, data, timestamp FROM event_history ORDER BY timestamp DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var (
			id, typ, sourceID string
			data              []byte
			ts                time.Time
		)
		if err := rows.Scan(&id, &typ, &sourceID, &data, &ts); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal data: %w", err)
		}
		out = append(out, history.Record{ID: id, Type: typ, SourceID: sourceID, Data: fields, Timestamp: ts})
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
