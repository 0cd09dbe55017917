// Package sqlite implements storage.Store on an embedded single-file
// SQLite database (modernc.org/sqlite, no cgo). It is the zero-dependency
// deployment backend: one process, one file, same contract.
//
// The backend covers the full run-tracking entity set. Recipes are a
// Postgres-only collaborator table; here GetRecipe reports not-found and
// ListRecipes returns an empty list.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"

	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// DB wraps a database/sql handle over a single SQLite file and implements
// storage.Store.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Store = (*DB)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    prompt       TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'queued',
    phase        TEXT NOT NULL DEFAULT 'plan',
    summary      TEXT,
    error        TEXT,
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS plans (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL UNIQUE REFERENCES runs (id) ON DELETE CASCADE,
    recipe_id    TEXT,
    status       TEXT NOT NULL DEFAULT 'planning',
    prompt       TEXT NOT NULL,
    site         TEXT,
    objective    TEXT,
    base_url     TEXT,
    starting_url TEXT,
    reasoning    TEXT,
    sample       TEXT,
    schema       TEXT,
    pagination   TEXT,
    config       TEXT,
    meta         TEXT,
    error        TEXT,
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS run_steps (
    id             TEXT PRIMARY KEY,
    run_id         TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    parent_step_id TEXT REFERENCES run_steps (id) ON DELETE CASCADE,
    identifier     TEXT NOT NULL,
    label          TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'pending',
    position       INTEGER NOT NULL DEFAULT 0,
    context        TEXT,
    started_at     TIMESTAMP,
    completed_at   TIMESTAMP,
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL,
    UNIQUE (run_id, identifier)
);

CREATE TABLE IF NOT EXISTS run_logs (
    id         TEXT PRIMARY KEY,
    run_id     TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    step_id    TEXT REFERENCES run_steps (id) ON DELETE SET NULL,
    sequence   INTEGER NOT NULL,
    severity   TEXT NOT NULL DEFAULT 'info',
    message    TEXT NOT NULL,
    payload    TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (run_id, sequence)
);

CREATE TABLE IF NOT EXISTS executions (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    plan_id      TEXT REFERENCES plans (id) ON DELETE SET NULL,
    engine       TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'queued',
    config       TEXT,
    result       TEXT,
    error        TEXT,
    metadata     TEXT,
    started_at   TIMESTAMP,
    completed_at TIMESTAMP,
    created_at   TIMESTAMP NOT NULL,
    updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_logs (
    id           TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL REFERENCES executions (id) ON DELETE CASCADE,
    run_id       TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    sequence     INTEGER NOT NULL,
    severity     TEXT NOT NULL DEFAULT 'info',
    message      TEXT NOT NULL,
    payload      TEXT,
    created_at   TIMESTAMP NOT NULL,
    UNIQUE (execution_id, sequence)
);
`

// Open opens (or creates) the database file, applies pragmas and the
// schema, and returns a ready store. Pass ":memory:" for tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// A single connection serializes writers; SQLite allows one writer at
	// a time anyway and this avoids SQLITE_BUSY churn under load.
	handle.SetMaxOpenConns(1)

	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if _, err := handle.ExecContext(ctx, schema); err != nil {
		handle.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	logger.Debug("sqlite store opened", "path", path)
	return &DB{db: handle, logger: logger}, nil
}

// Ping verifies database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (db *DB) Close(_ context.Context) error {
	return db.db.Close()
}

// isUniqueViolation reports whether err is a unique or primary-key
// constraint violation.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// 2067 = SQLITE_CONSTRAINT_UNIQUE, 1555 = SQLITE_CONSTRAINT_PRIMARYKEY
	return se.Code() == 2067 || se.Code() == 1555
}

// jsonArg serializes an opaque payload for a TEXT column; nil stays NULL.
func jsonArg(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal payload: %w", err)
	}
	return string(b), nil
}

// jsonField deserializes a TEXT column back into an opaque payload.
func jsonField(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("storage: unmarshal payload: %w", err)
	}
	return m, nil
}

// uuidArg converts an optional UUID for a nullable TEXT column.
func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// uuidField converts a nullable TEXT column back to an optional UUID.
func uuidField(raw sql.NullString) (*uuid.UUID, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw.String)
	if err != nil {
		return nil, fmt.Errorf("storage: parse uuid: %w", err)
	}
	return &id, nil
}
