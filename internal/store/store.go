// Package store owns the farm's persistent state: the flags table and
// the hfi checker registry, backed by an embedded SQLite database.
//
// SQLite tolerates one writer at a time, so every mutating operation
// takes a single writer lease (writeMu) around its transaction. Reads go
// straight to the pool and proceed concurrently under WAL. The lease is
// never held across a network call.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite" // sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS flags (
	flag                 VARCHAR(64) NOT NULL,
	exploit              VARCHAR(64) NOT NULL,
	status               SMALLINT NOT NULL,
	timestamp            BIGINT NOT NULL,
	submission_timestamp BIGINT,
	system_message       VARCHAR(128),
	PRIMARY KEY (flag)
);
CREATE INDEX IF NOT EXISTS idx_flags_status_timestamp ON flags (status, timestamp);
CREATE TABLE IF NOT EXISTS hfi (
	service_name VARCHAR(32) NOT NULL,
	port         INTEGER,
	delta        INTEGER,
	PRIMARY KEY (delta)
);
`

// Store wraps the embedded database. All flag rows are owned exclusively
// by this type; other components never touch SQL directly.
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex
	lifetime int64 // seconds a flag stays submittable
	logger   *log.Logger
}

// Open opens (or creates) the database at path and applies the schema.
// lifetime is the flag lifetime in seconds used by the expiry sweep and
// derived lifetimes.
func Open(path string, lifetime int64) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if path == ":memory:" {
		// An in-memory database exists per connection; keep exactly one.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{
		db:       db,
		lifetime: lifetime,
		logger:   log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriter runs fn inside a transaction under the writer lease.
func (s *Store) withWriter(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
