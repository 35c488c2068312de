// Package archive keeps a best-effort Postgres record of every committed
// edit. The relay never reads it back; it exists for offline inspection and
// replay tooling. The durable log, not this table, is the source of truth.
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"collabrelay/event"
)

// pgx runs one statement per Exec, so the schema is applied piecewise.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS edit_events (
		id BIGSERIAL PRIMARY KEY,
		doc_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		position BIGINT NOT NULL,
		character TEXT,
		ts BIGINT NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS edit_events_doc_idx ON edit_events (doc_id, id)`,
}

// Store writes committed edits into the edit_events table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the archive table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating archive schema: %w", err)
		}
	}
	return nil
}

// Save inserts one committed edit.
func (s *Store) Save(ctx context.Context, ev event.EditEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO edit_events (doc_id, user_id, operation, position, character, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.DocID, ev.UserID, ev.Operation, ev.Position, ev.Character, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("archiving edit for %s: %w", ev.DocID, err)
	}
	return nil
}
