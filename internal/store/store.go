// Package store provides a SQLite-backed log of retrieval decisions. Every
// query is recorded with the path that served it (grounded or vanilla), the
// fallback reason when one applied, and the end-to-end latency, so operators
// can audit how often grounding actually engages in production.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// QueryRecord is one logged retrieval decision.
type QueryRecord struct {
	// Query is the raw query text as received.
	Query string
	// Mode is the retrieval path that served the request: grounded or vanilla.
	Mode string
	// Reason is the fallback reason tag, empty when the grounded path completed.
	Reason string
	// Candidates is the number of results returned.
	Candidates int
	// Duration is the end-to-end retrieval latency.
	Duration time.Duration
	// CreatedAt is when the record was persisted.
	CreatedAt time.Time
}

// QueryLog persists and retrieves retrieval decision records.
// Implementations must be safe for concurrent use.
type QueryLog interface {
	// Append persists a single record.
	Append(ctx context.Context, rec *QueryRecord) error
	// Recent returns the most recent n records, newest-first.
	// If fewer than n records exist, all are returned.
	Recent(ctx context.Context, n int) ([]QueryRecord, error)
	// Close releases any resources held by the log.
	Close() error
}

// SQLiteStore is a QueryLog backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the query log database.
// It resolves to ~/.basrag/queries.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".basrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "queries.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS queries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    query        TEXT    NOT NULL,
    mode         TEXT    NOT NULL CHECK(mode IN ('grounded','vanilla')),
    reason       TEXT    NOT NULL DEFAULT '',
    candidates   INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_queries_created
    ON queries (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists a single record. CreatedAt is stamped here, not by the caller.
func (s *SQLiteStore) Append(ctx context.Context, rec *QueryRecord) error {
	const q = `INSERT INTO queries (query, mode, reason, candidates, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		rec.Query, rec.Mode, rec.Reason, rec.Candidates,
		rec.Duration.Milliseconds(), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n records, newest-first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]QueryRecord, error) {
	const q = `
SELECT query, mode, reason, candidates, duration_ms, created_at
FROM   queries
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var recs []QueryRecord
	for rows.Next() {
		var r QueryRecord
		var durMS, ts int64
		if err := rows.Scan(&r.Query, &r.Mode, &r.Reason, &r.Candidates, &durMS, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.CreatedAt = time.Unix(ts, 0)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return recs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
