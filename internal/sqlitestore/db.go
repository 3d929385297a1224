// Package sqlitestore persists watermarks, runs and task instances in a
// SQLite database so that state survives restarts. One Store implements both
// watermark.Store and runstore.Store over a single database handle, which
// lets a run's history and its watermark live in the same file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vk/medallion/internal/runstore"
	"github.com/vk/medallion/internal/watermark"
)

const schema = `
CREATE TABLE IF NOT EXISTS watermarks (
	pipeline      TEXT NOT NULL,
	source        TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (pipeline, source)
);

CREATE TABLE IF NOT EXISTS runs (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	pipeline        TEXT NOT NULL,
	partition_key   TEXT NOT NULL,
	partition_start TEXT NOT NULL,
	partition_end   TEXT NOT NULL,
	state           TEXT NOT NULL,
	forced          INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	started_at      DATETIME NOT NULL,
	ended_at        DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS runs_one_in_flight
	ON runs (pipeline, partition_key)
	WHERE state IN ('pending', 'running');

CREATE INDEX IF NOT EXISTS runs_by_pipeline ON runs (pipeline, started_at);

CREATE TABLE IF NOT EXISTS task_instances (
	run_id          TEXT NOT NULL REFERENCES runs (id),
	position        INTEGER NOT NULL,
	task_id         TEXT NOT NULL,
	kind            TEXT NOT NULL,
	state           TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	error_class     TEXT NOT NULL DEFAULT '',
	rows_processed  INTEGER NOT NULL DEFAULT 0,
	quality_score   REAL,
	quality_results TEXT,
	output          TEXT NOT NULL DEFAULT '',
	started_at      DATETIME,
	ended_at        DATETIME,
	PRIMARY KEY (run_id, task_id)
);
`

// Store is a SQLite-backed watermark.Store and runstore.Store.
type Store struct {
	db *sql.DB
}

var (
	_ watermark.Store = (*Store)(nil)
	_ runstore.Store  = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}
	// A single connection serializes writers, which makes every transaction
	// below effectively exclusive and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// inTx runs fn in a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
