// Package memory provides an in-process CounterStore. It is an
// interchangeable variant of the shared store for tests and single-instance
// deployments; counts are not shared across processes.
package memory

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count   int64
	expires time.Time
}

// Store is a mutex-guarded map of counters with TTL semantics matching the
// shared store: lazy expiry on access plus an optional janitor sweep.
type Store struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrBy implements ratelimit.CounterStore. The expiry only ever extends.
func (s *Store) IncrBy(_ context.Context, key string, weight int64, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if c == nil || !c.expires.After(now) {
		c = &counter{expires: now.Add(ttl)}
		s.counters[key] = c
	} else if exp := now.Add(ttl); exp.After(c.expires) {
		c.expires = exp
	}
	c.count += weight
	return c.count, nil
}

// Sweep drops expired counters and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, c := range s.counters {
		if !c.expires.After(now) {
			delete(s.counters, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired counters every interval until ctx is done.
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
				s.Sweep()
			}
		}
	}()
}

func (s *Store) Close() error { return nil }
