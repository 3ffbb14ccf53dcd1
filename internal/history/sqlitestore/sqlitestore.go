// Package sqlitestore implements history.Store over a local SQLite
// file via jmoiron/sqlx and mattn/go-sqlite3, for single-process
// deployments that still want durable history across restarts.
package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kandev/agentcore/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_history (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	data       TEXT NOT NULL,
	timestamp  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_history_timestamp ON event_history(timestamp);
`

// Store is a SQLite-backed history.Store.
type Store struct {
	db *sqlx.DB
}

// Open creates (if needed) and migrates the SQLite database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: connect: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

var _ history.Store = (*Store)(nil)

// Append inserts rec, replacing any existing row with the same id.
func (s *Store) Append(ctx context.Context, rec history.Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO event_history (id, type, source_id, data, timestamp) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.SourceID, string(data), rec.Timestamp,
	)
	return err
}

type row struct {
	ID        string    `db:"id"`
	Type      string    `db:"type"`
	SourceID  string    `db:"source_id"`
	Data      string    `db:"data"`
	Timestamp time.Time `db:"timestamp"`
}

// Recent returns up to limit records, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, type, source_id, data, timestamp FROM event_history ORDER BY timestamp DESC LIMIT ?`, limit,
	); err != nil {
		return nil, fmt.Errorf("sqlitestore: query: %w", err)
	}

	out := make([]history.Record, 0, len(rows))
	for _, r := range rows {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(r.Data), &data); err != nil {
			return nil, fmt.Errorf("sqlitestore: unmarshal data: %w", err)
		}
		out = append(out, history.Record{
			ID: r.ID, Type: r.Type, SourceID: r.SourceID, Data: data, Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
