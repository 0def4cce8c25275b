// Package redis implements the shared CounterStore on a Redis server. The
// increment is Redis's native atomic INCRBY; the expiry travels in the same
// pipelined round trip so a counter can never exist without a TTL.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store counts against a shared Redis instance. Safe for concurrent use from
// any number of processes; Redis is the only synchronization point.
type Store struct {
	client *goredis.Client
}

// New wraps an existing client. The caller owns connection configuration;
// Close closes the client.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity, for startup logging.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// IncrBy implements ratelimit.CounterStore. EXPIRE NX sets the TTL on a fresh
// key and EXPIRE GT only ever lengthens it, so a late increment within the
// same window cannot shorten the bucket's life.
func (s *Store) IncrBy(ctx context.Context, key string, weight int64, ttl time.Duration) (int64, error) {
	pipe := s.client.Pipeline()
	incr := pipe.IncrBy(ctx, key, weight)
	pipe.ExpireNX(ctx, key, ttl)
	pipe.ExpireGT(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *Store) Close() error { return s.client.Close() }
