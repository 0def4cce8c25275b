package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Evaluator runs one admission check across all configured periods and
// reduces the results to a single Decision. It holds no cross-call state;
// correctness rests on the store's atomic increment.
type Evaluator struct {
	store  CounterStore
	events Events
	log    zerolog.Logger
	prefix string
	now    func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorEvents sets the observability sink for degraded evaluations.
func WithEvaluatorEvents(ev Events) EvaluatorOption {
	return func(e *Evaluator) { e.events = ev }
}

// WithEvaluatorLogger sets the logger.
func WithEvaluatorLogger(log zerolog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.log = log }
}

// WithKeyPrefix sets the bucket key prefix (default "rl").
func WithKeyPrefix(prefix string) EvaluatorOption {
	return func(e *Evaluator) { e.prefix = prefix }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator builds an evaluator on top of store, typically a Failover
// wrapping Redis and the durable fallback.
func NewEvaluator(store CounterStore, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:  store,
		events: NopEvents{},
		log:    zerolog.Nop(),
		prefix: "rl",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type periodResult struct {
	period    Period
	allowed   bool
	limit     int64
	remaining int64
	resetAt   time.Time
	degraded  bool
}

// Evaluate increments every limited period's counter by weight and reduces
// the outcomes:
//
//  1. Periods with limit 0 are bypassed.
//  2. If any period is over its limit, the first violated period in
//     Minute→Hour→Day order is the decision, with RetryAfter until its reset.
//  3. Otherwise the period with the smallest remaining quota is reported.
//
// The per-period store calls are independent keys and are issued
// concurrently, so a decision costs roughly one store round trip.
func (e *Evaluator) Evaluate(ctx context.Context, identifier string, weight int64, limits Limits) Decision {
	if weight <= 0 {
		weight = 1
	}
	now := e.now().UTC()

	var (
		wg      sync.WaitGroup
		results [len(Periods)]*periodResult
	)
	for i, p := range Periods {
		limit := limits.For(p)
		if limit <= 0 {
			continue
		}
		wg.Add(1)
		go func(i int, p Period, limit int64) {
			defer wg.Done()
			results[i] = e.checkPeriod(ctx, identifier, p, weight, limit, now)
		}(i, p, limit)
	}
	wg.Wait()

	var denied, tightest *periodResult
	degraded := false
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.degraded {
			degraded = true
		}
		if !res.allowed {
			if denied == nil {
				denied = res
			}
			continue
		}
		if tightest == nil || res.remaining < tightest.remaining {
			tightest = res
		}
	}

	if denied != nil {
		retry := denied.resetAt.Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{
			Allowed:    false,
			Limit:      denied.limit,
			Remaining:  denied.remaining,
			ResetAt:    denied.resetAt,
			RetryAfter: retry,
			Period:     denied.period,
			Degraded:   degraded,
		}
	}
	if tightest == nil {
		// Every period bypassed: always allowed, nothing tracked.
		return Decision{Allowed: true}
	}
	return Decision{
		Allowed:   true,
		Limit:     tightest.limit,
		Remaining: tightest.remaining,
		ResetAt:   tightest.resetAt,
		Period:    tightest.period,
		Degraded:  degraded,
	}
}

func (e *Evaluator) checkPeriod(ctx context.Context, identifier string, p Period, weight, limit int64, now time.Time) *periodResult {
	start := WindowStart(p, now)
	end := start.Add(p.Duration())
	key := e.prefix + ":" + identifier + ":" + p.String() + ":" + strconv.FormatInt(start.Unix(), 10)

	count, err := e.store.IncrBy(ctx, key, weight, end.Sub(now))
	if err != nil {
		// Fail open: infrastructure trouble must never reject traffic.
		// Assume this was the first hit of the window so the response
		// metadata stays plausible.
		e.events.DegradedEvaluation(identifier)
		e.log.Warn().Err(err).
			Str("identifier", identifier).
			Stringer("period", p).
			Msg("degraded evaluation, failing open")
		return &periodResult{
			period:    p,
			allowed:   true,
			limit:     limit,
			remaining: max(limit-weight, 0),
			resetAt:   end,
			degraded:  true,
		}
	}

	return &periodResult{
		period:    p,
		allowed:   count <= limit,
		limit:     limit,
		remaining: max(limit-count, 0),
		resetAt:   end,
	}
}
