// Package store is the durable backing for the Task Registry, Lesson
// Composer's GET-by-identity index, and Progress Tracker, built on an
// embedded modernc.org/sqlite database. It replaces the prior
// Firestore document store (an external, hosted service this control
// plane opts not to depend on) with a pure-Go engine the control plane
// owns outright.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the underlying *sql.DB with the schema this package expects.
type DB struct {
	*sql.DB
}

// Open creates or attaches to a sqlite database at path ("" or
// ":memory:" for an ephemeral store, used by the harness and tests) and
// applies the schema.
func Open(path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The pure-Go sqlite driver does not support concurrent writers;
	// serialize at the database/sql pool level rather than fighting it
	// with busy-timeout retries on every call site.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL,
	state TEXT NOT NULL,
	progress_percent INTEGER NOT NULL DEFAULT 0,
	input_fingerprint TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	submitted_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME,
	partial_result TEXT,
	final_result TEXT,
	error_kind TEXT,
	error_message TEXT,
	inputs TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_dedup ON tasks(user_id, kind, input_fingerprint, state);

CREATE TABLE IF NOT EXISTS task_events (
	task_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	emitted_at DATETIME NOT NULL,
	percent INTEGER NOT NULL,
	stage TEXT NOT NULL,
	partial TEXT,
	PRIMARY KEY (task_id, seq)
);

CREATE TABLE IF NOT EXISTS lessons (
	subject TEXT NOT NULL,
	topic TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (subject, topic)
);

CREATE TABLE IF NOT EXISTS user_progress (
	user_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trigger_dispatches (
	dedup_key TEXT PRIMARY KEY,
	fired_at DATETIME NOT NULL
);
`

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
