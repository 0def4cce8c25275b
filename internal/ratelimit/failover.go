package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultStoreTimeout = 250 * time.Millisecond

// Failover composes the shared counter store with a durable fallback. Every
// increment gets a single attempt per store under a short timeout; a primary
// failure is absorbed by the fallback, and only when both fail does IncrBy
// return ErrStoreUnavailable, which the evaluator turns into a fail-open
// decision. No retry loops.
type Failover struct {
	primary  CounterStore
	fallback CounterStore // may be nil
	timeout  time.Duration
	events   Events
	log      zerolog.Logger
	warn     *rate.Limiter // keeps an outage from flooding the log
}

// FailoverOption configures a Failover.
type FailoverOption func(*Failover)

// WithStoreTimeout sets the per-store attempt timeout (default 250ms).
func WithStoreTimeout(d time.Duration) FailoverOption {
	return func(f *Failover) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithEvents sets the observability sink for store failures.
func WithEvents(ev Events) FailoverOption {
	return func(f *Failover) { f.events = ev }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) FailoverOption {
	return func(f *Failover) { f.log = log }
}

// NewFailover wraps primary with fallback. fallback may be nil, in which case
// a primary failure is immediately ErrStoreUnavailable.
func NewFailover(primary, fallback CounterStore, opts ...FailoverOption) *Failover {
	f := &Failover{
		primary:  primary,
		fallback: fallback,
		timeout:  defaultStoreTimeout,
		events:   NopEvents{},
		log:      zerolog.Nop(),
		warn:     rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IncrBy implements CounterStore.
func (f *Failover) IncrBy(ctx context.Context, key string, weight int64, ttl time.Duration) (int64, error) {
	count, err := f.attempt(ctx, f.primary, key, weight, ttl)
	if err == nil {
		return count, nil
	}
	f.events.StoreFailure("primary", err)
	if f.warn.Allow() {
		f.log.Warn().Err(err).Str("key", key).Msg("primary counter store failed")
	}

	if f.fallback == nil {
		return 0, ErrStoreUnavailable
	}
	count, err = f.attempt(ctx, f.fallback, key, weight, ttl)
	if err == nil {
		return count, nil
	}
	f.events.StoreFailure("fallback", err)
	if f.warn.Allow() {
		f.log.Warn().Err(err).Str("key", key).Msg("fallback counter store failed")
	}
	return 0, ErrStoreUnavailable
}

func (f *Failover) attempt(ctx context.Context, store CounterStore, key string, weight int64, ttl time.Duration) (int64, error) {
	actx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return store.IncrBy(actx, key, weight, ttl)
}

// Close closes both stores.
func (f *Failover) Close() error {
	err := f.primary.Close()
	if f.fallback != nil {
		err = errors.Join(err, f.fallback.Close())
	}
	return err
}
