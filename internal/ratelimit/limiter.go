// Package ratelimit implements fixed-window, multi-period admission control
// backed by a shared counter store. Counters live in Redis (or an
// interchangeable in-process store), keyed by identifier, period and window
// start, and expire via TTL. Decisions reduce all configured periods with a
// most-restrictive-wins policy.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrStoreUnavailable is returned by a CounterStore when the increment could
// not be performed anywhere. The evaluator treats it as a signal to fail open.
var ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")

// CounterStore is the single concurrency-critical primitive of the engine.
// IncrBy atomically adds weight to the counter at key and returns the
// post-increment value. The key's expiry is set to ttl in the same operation,
// and only ever extended, never shortened. Implementations must not
// read-then-write the value.
type CounterStore interface {
	IncrBy(ctx context.Context, key string, weight int64, ttl time.Duration) (int64, error)
	Close() error
}

// Limits holds the weighted-unit quota per period. A value of zero means the
// period is bypassed entirely: always allowed, nothing counted.
type Limits struct {
	PerMinute int64
	PerHour   int64
	PerDay    int64
}

// For returns the limit configured for p.
func (l Limits) For(p Period) int64 {
	switch p {
	case Minute:
		return l.PerMinute
	case Hour:
		return l.PerHour
	case Day:
		return l.PerDay
	}
	return 0
}

// Zero reports whether no period carries a limit.
func (l Limits) Zero() bool {
	return l.PerMinute == 0 && l.PerHour == 0 && l.PerDay == 0
}

// Decision is the outcome of one admission check. Limit, Remaining and ResetAt
// describe the binding period: on denial the first violated period in priority
// order, on allow the period with the smallest remaining quota. Computed fresh
// per call, never persisted.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration // zero unless denied
	Period     Period
	Degraded   bool // at least one period was evaluated without a working store
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, as
// rendered in the Retry-After header.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int64(math.Ceil(d.RetryAfter.Seconds()))
}

// Events receives store-failure and degraded-evaluation notifications.
// Implementations must be fire-and-forget and never block the decision path.
type Events interface {
	StoreFailure(store string, err error)
	DegradedEvaluation(identifier string)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) StoreFailure(string, error) {}
func (NopEvents) DegradedEvaluation(string)  {}
