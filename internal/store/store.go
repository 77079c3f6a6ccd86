// Package store implements the proxy's persistent state: sessions, filter
// profiles and their filters, logged requests (with interception
// auxiliary columns), and a settings key-value table, all backed by a
// single SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// Store wraps a SQLite database holding every table the proxy needs. The
// pool is pinned to a single connection (see Open), so concurrent
// operations run one at a time on that connection.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	// SQLite has no real concept of concurrent writers; pinning the pool to
	// a single connection avoids "database is locked" errors and makes the
	// foreign_keys pragma below apply to every statement this Store runs.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys on store %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS filter_profiles (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			keep_tool_pairs INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		);

		CREATE TABLE IF NOT EXISTS system_filters (
			id         TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL REFERENCES filter_profiles(id) ON DELETE CASCADE,
			pattern    TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		);
		CREATE INDEX IF NOT EXISTS idx_system_filters_profile ON system_filters(profile_id);

		CREATE TABLE IF NOT EXISTS tool_filters (
			id         TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL REFERENCES filter_profiles(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		);
		CREATE INDEX IF NOT EXISTS idx_tool_filters_profile ON tool_filters(profile_id);

		CREATE TABLE IF NOT EXISTS sessions (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			target_url          TEXT NOT NULL,
			tls_verify_disabled INTEGER NOT NULL DEFAULT 0,
			auth_header         TEXT,
			x_api_key           TEXT,
			profile_id          TEXT REFERENCES filter_profiles(id) ON DELETE SET NULL,
			error_inject        TEXT,
			webfetch_intercept  INTEGER NOT NULL DEFAULT 0,
			whitelist           TEXT,
			created_at          TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		);

		CREATE TABLE IF NOT EXISTS requests (
			id                     TEXT PRIMARY KEY,
			session_id             TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			method                 TEXT NOT NULL,
			path                   TEXT NOT NULL,
			timestamp              TEXT NOT NULL,
			headers_json           TEXT,
			body_json              TEXT,
			truncated_json         TEXT,
			model                  TEXT,
			tools_json             TEXT,
			messages_json          TEXT,
			system_json            TEXT,
			params_json            TEXT,
			note                   TEXT,
			created_at             TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			response_status        INTEGER,
			response_headers_json  TEXT,
			response_body          TEXT,
			response_events_json   TEXT,
			intercept_first_body   TEXT,
			intercept_first_events TEXT,
			intercept_followup_json TEXT,
			intercept_rounds_json  TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_id);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrating store schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func newID() string {
	return uuid.New().String()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
