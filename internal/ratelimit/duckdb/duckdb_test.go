package duckdb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testOpen(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fallback.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIncrBy(t *testing.T) {
	s := testOpen(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrBy(ctx, "k", 1, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Errorf("count = %d, want %d", n, i)
		}
	}

	n, err := s.IncrBy(ctx, "k", 7, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("weighted count = %d, want 10", n)
	}

	n, err = s.IncrBy(ctx, "other", 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("distinct key count = %d, want 1", n)
	}
}

func TestPurge(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	s := testOpen(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := s.IncrBy(ctx, "short", 1, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IncrBy(ctx, "long", 1, time.Hour); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Second)
	removed, err := s.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("Purge removed %d rows, want 1", removed)
	}

	if n, _ := s.IncrBy(ctx, "long", 1, time.Hour); n != 2 {
		t.Errorf("surviving bucket count = %d, want 2", n)
	}
	if n, _ := s.IncrBy(ctx, "short", 1, time.Second); n != 1 {
		t.Errorf("purged bucket count = %d, want fresh row", n)
	}
}

func TestExpiryNeverShrinks(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	s := testOpen(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := s.IncrBy(ctx, "k", 1, time.Hour); err != nil {
		t.Fatal(err)
	}
	// Shorter ttl on a later increment must not move the expiry earlier.
	if _, err := s.IncrBy(ctx, "k", 1, time.Second); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Minute)
	removed, err := s.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("Purge removed %d rows, want 0 (expiry must not have shrunk)", removed)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	s := testOpen(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.IncrBy(ctx, "k", 1, time.Minute); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	count, err := s.IncrBy(ctx, "k", 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != n+1 {
		t.Errorf("final count = %d, want %d (no lost updates)", count, n+1)
	}
}
