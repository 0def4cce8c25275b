// Package duckdb implements the durable fallback CounterStore on an embedded
// DuckDB file. It is slower than the shared store and only consulted when
// that store is unreachable. The increment is a single conditional upsert,
// race-safe under the database's own concurrency control; no
// read-modify-write happens in application code.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS rate_buckets (
	bucket_key VARCHAR PRIMARY KEY,
	count      BIGINT NOT NULL,
	expires_at TIMESTAMP NOT NULL
)`

const incrementSQL = `
INSERT INTO rate_buckets (bucket_key, count, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (bucket_key) DO UPDATE SET
	count      = count + excluded.count,
	expires_at = greatest(expires_at, excluded.expires_at)
RETURNING count`

// Store persists counters in a DuckDB database file. Rows have no TTL
// machinery of their own; Purge (or the janitor) drops expired ones.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path and applies the schema.
// An empty path opens an in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open fallback db: %w", err)
	}
	// DuckDB resolves write-write conflicts optimistically; a single
	// connection serializes same-row upserts instead of aborting them.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply fallback schema: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IncrBy implements ratelimit.CounterStore. The upsert adds weight to the
// bucket row, creating it if absent, and greatest() keeps the expiry from
// ever moving earlier.
func (s *Store) IncrBy(ctx context.Context, key string, weight int64, ttl time.Duration) (int64, error) {
	expires := s.now().UTC().Add(ttl)
	var count int64
	err := s.db.QueryRowContext(ctx, incrementSQL, key, weight, expires).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment bucket: %w", err)
	}
	return count, nil
}

// Purge deletes expired bucket rows and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_buckets WHERE expires_at < ?`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge buckets: %w", err)
	}
	return res.RowsAffected()
}

// StartJanitor purges expired rows every interval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = s.Purge(ctx)
			}
		}
	}()
}

func (s *Store) Close() error { return s.db.Close() }
