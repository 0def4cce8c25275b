package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quotagate/quotagate/internal/ratelimit/memory"
)

var evalNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestEvaluator(opts ...EvaluatorOption) *Evaluator {
	store := memory.New(memory.WithClock(func() time.Time { return evalNow }))
	opts = append([]EvaluatorOption{WithClock(func() time.Time { return evalNow })}, opts...)
	return NewEvaluator(store, opts...)
}

func TestEvaluateDenyReportsFirstViolatedPeriod(t *testing.T) {
	e := newTestEvaluator()
	limits := Limits{PerMinute: 2, PerHour: 100, PerDay: 1000}

	for i := 0; i < 2; i++ {
		if dec := e.Evaluate(context.Background(), "k1", 1, limits); !dec.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
	}

	dec := e.Evaluate(context.Background(), "k1", 1, limits)
	if dec.Allowed {
		t.Fatal("3rd call should be denied")
	}
	if dec.Period != Minute {
		t.Errorf("denial should report the minute period, got %s", dec.Period)
	}
	if want := WindowEnd(Minute, evalNow); !dec.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want minute window end %v", dec.ResetAt, want)
	}
	if got := dec.RetryAfterSeconds(); got <= 0 || got > 60 {
		t.Errorf("RetryAfterSeconds = %d, want within (0, 60]", got)
	}
	if dec.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", dec.Remaining)
	}
}

func TestEvaluateAllowReportsSmallestRemaining(t *testing.T) {
	e := newTestEvaluator()
	limits := Limits{PerMinute: 100, PerHour: 5, PerDay: 1000}

	var dec Decision
	for i := 0; i < 4; i++ {
		dec = e.Evaluate(context.Background(), "k1", 1, limits)
		if !dec.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
	}

	// Minute has 96 left, day 996; hour binds first with 1.
	if dec.Period != Hour {
		t.Errorf("decision period = %s, want hour", dec.Period)
	}
	if dec.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", dec.Remaining)
	}
	if dec.Limit != 5 {
		t.Errorf("Limit = %d, want 5", dec.Limit)
	}
	if dec.RetryAfter != 0 {
		t.Errorf("RetryAfter should be zero on allow, got %v", dec.RetryAfter)
	}
}

func TestEvaluateWeightScaling(t *testing.T) {
	e := newTestEvaluator()
	limits := Limits{PerMinute: 50}

	for i := 0; i < 10; i++ {
		if dec := e.Evaluate(context.Background(), "k1", 5, limits); !dec.Allowed {
			t.Fatalf("weighted call %d unexpectedly denied", i+1)
		}
	}
	if dec := e.Evaluate(context.Background(), "k1", 5, limits); dec.Allowed {
		t.Error("11th weighted call should be denied")
	}
}

func TestEvaluateZeroLimitBypass(t *testing.T) {
	e := newTestEvaluator()
	limits := Limits{PerMinute: 0, PerHour: 3}

	var dec Decision
	for i := 0; i < 3; i++ {
		dec = e.Evaluate(context.Background(), "k1", 1, limits)
		if !dec.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
		if dec.Period != Hour {
			t.Fatalf("bypassed minute period must not be reported, got %s", dec.Period)
		}
	}
	if dec := e.Evaluate(context.Background(), "k1", 1, limits); dec.Allowed {
		t.Error("4th call should be denied by the hour limit")
	}
}

func TestEvaluateAllPeriodsBypassed(t *testing.T) {
	e := newTestEvaluator()

	dec := e.Evaluate(context.Background(), "k1", 1, Limits{})
	if !dec.Allowed {
		t.Error("all-zero limits must always allow")
	}
	if dec.Limit != 0 {
		t.Errorf("bypass decision should carry no limit, got %d", dec.Limit)
	}
}

func TestEvaluateDistinctIdentifiers(t *testing.T) {
	e := newTestEvaluator()
	limits := Limits{PerMinute: 1}

	if dec := e.Evaluate(context.Background(), "a", 1, limits); !dec.Allowed {
		t.Fatal("first call for a denied")
	}
	if dec := e.Evaluate(context.Background(), "b", 1, limits); !dec.Allowed {
		t.Error("identifier b must not share a's bucket")
	}
	if dec := e.Evaluate(context.Background(), "a", 1, limits); dec.Allowed {
		t.Error("second call for a should be denied")
	}
}

func TestEvaluateConcurrentCounting(t *testing.T) {
	e := newTestEvaluator()
	limits := Limits{PerDay: 5000}

	const n = 500
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			e.Evaluate(context.Background(), "k1", 1, limits)
		}()
	}
	wg.Wait()

	dec := e.Evaluate(context.Background(), "k1", 1, limits)
	if want := int64(5000 - n - 1); dec.Remaining != want {
		t.Errorf("Remaining after %d concurrent calls = %d, want %d (no lost updates)", n, dec.Remaining, want)
	}
}

type failingStore struct{ err error }

func (f failingStore) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, f.err
}
func (failingStore) Close() error { return nil }

type captureEvents struct {
	mu       sync.Mutex
	degraded []string
	failures []string
}

func (c *captureEvents) StoreFailure(store string, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, store)
}

func (c *captureEvents) DegradedEvaluation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = append(c.degraded, id)
}

func TestEvaluateFailsOpenOnStoreOutage(t *testing.T) {
	events := &captureEvents{}
	e := NewEvaluator(failingStore{err: errors.New("boom")},
		WithClock(func() time.Time { return evalNow }),
		WithEvaluatorEvents(events),
	)
	limits := Limits{PerMinute: 2, PerHour: 10}

	for i := 0; i < 20; i++ {
		dec := e.Evaluate(context.Background(), "k1", 1, limits)
		if !dec.Allowed {
			t.Fatalf("call %d denied during store outage, want fail-open", i+1)
		}
		if !dec.Degraded {
			t.Fatalf("call %d not flagged degraded", i+1)
		}
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	// One degraded event per limited period per call.
	if want := 20 * 2; len(events.degraded) != want {
		t.Errorf("degraded events = %d, want %d", len(events.degraded), want)
	}
}
