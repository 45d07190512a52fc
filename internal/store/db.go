// Package store persists credentials and request logs in SQLite, via
// modernc.org/sqlite (a pure-Go driver — no cgo toolchain required to build
// or deploy Pylon). Adapted from
// _examples/eugener-gandalf/internal/storage/sqlite: same write/read pool
// split and pragma set, but schema is created with idempotent
// CREATE TABLE IF NOT EXISTS statements rather than a goose migration
// runner (see DESIGN.md for why goose was not wired).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Update/Delete when the target id does not
// exist. GetByHash and GetByID report a missing row as (nil, nil) instead.
var ErrNotFound = errors.New("store: not found")

// Store implements credential.Store and recorder.Sink against SQLite.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens dsn (a file path, or ":memory:" for tests) and ensures the
// schema exists.
func New(dsn string) (*Store, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	s := &Store{write: write, read: read}
	if err := s.migrate(context.Background()); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'normal',
			created_at TEXT NOT NULL,
			expires_at TEXT,
			revoked_at TEXT,
			rate_limit_config TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_key_hash ON credentials(key_hash)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			credential_id TEXT NOT NULL,
			api_identifier TEXT NOT NULL,
			request_path TEXT NOT NULL,
			request_method TEXT NOT NULL,
			response_status INTEGER NOT NULL,
			request_time TEXT NOT NULL,
			response_time_ms INTEGER NOT NULL,
			client_ip TEXT NOT NULL DEFAULT '',
			is_sse INTEGER NOT NULL DEFAULT 0,
			sse_message_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_request_time ON request_logs(request_time)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_credential_id ON request_logs(credential_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.write.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both connection pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
