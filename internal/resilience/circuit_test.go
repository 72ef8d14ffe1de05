package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sells-group/vose-cli/internal/model"
)

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_, _ = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
			return 0, errors.New("fail")
		})
	}
}

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	_, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         1 * time.Hour,
	}
	cb := NewCircuitBreaker(cfg)
	cb.nowFunc = func() time.Time { return now }

	failN(cb, 3)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open state after %d failures, got %s", cfg.FailureThreshold, cb.State())
	}

	snap := cb.Snapshot()
	if snap.State != model.CircuitOpen {
		t.Errorf("expected persisted OPEN, got %s", snap.State)
	}
	if snap.FailureCount != 3 {
		t.Errorf("expected failure count 3, got %d", snap.FailureCount)
	}
	if snap.NextAttemptAt == nil || !snap.NextAttemptAt.After(now) {
		t.Fatalf("expected next attempt in the future, got %v", snap.NextAttemptAt)
	}

	// Next call should be rejected immediately.
	_, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		t.Error("should not be called when circuit is open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	failN(cb, 2)

	failures, state := cb.Counters()
	if failures != 2 {
		t.Errorf("expected 2 failures, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed state, got %s", state)
	}

	cb.RecordSuccess()

	failures, _ = cb.Counters()
	if failures != 0 {
		t.Errorf("expected 0 failures after success, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }

	failN(cb, 2)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	if cb.State() != CircuitHalfOpen {
		t.Errorf("expected half-open state after cooldown, got %s", cb.State())
	}

	// Successful probe closes the circuit.
	_, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failures, state := cb.Counters()
	if state != CircuitClosed {
		t.Errorf("expected closed state after successful probe, got %s", state)
	}
	if failures != 0 {
		t.Errorf("expected failure count reset, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 1)

	cb.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected second probe to be rejected, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenFailure_Reopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 2)

	later := now.Add(200 * time.Millisecond)
	cb.nowFunc = func() time.Time { return later }
	failN(cb, 1)

	failures, state := cb.Counters()
	if state != CircuitOpen {
		t.Errorf("expected open state after half-open failure, got %s", state)
	}
	if failures != 3 {
		t.Errorf("expected 3 total failures, got %d", failures)
	}
	snap := cb.Snapshot()
	if snap.NextAttemptAt == nil || !snap.NextAttemptAt.Equal(later.Add(100*time.Millisecond)) {
		t.Errorf("expected cooldown restarted from probe failure, got %v", snap.NextAttemptAt)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []struct{ from, to CircuitState }
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, struct{ from, to CircuitState }{from, to})
		},
	})

	failN(cb, 2)

	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != CircuitClosed || transitions[0].to != CircuitOpen {
		t.Errorf("expected CLOSED→OPEN, got %s→%s", transitions[0].from, transitions[0].to)
	}
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})

	for i := 0; i < 5; i++ {
		_, _ = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
			return 0, context.Canceled
		})
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed (cancellations ignored), got %s", cb.State())
	}

	failN(cb, 2)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after real failures, got %s", cb.State())
	}
}

func TestCircuitBreaker_RestoreRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}
	cb := NewCircuitBreaker(cfg)
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 1)

	restored := NewCircuitBreaker(cfg)
	restored.nowFunc = func() time.Time { return now.Add(30 * time.Minute) }
	restored.Restore(cb.Snapshot())

	if restored.State() != CircuitOpen {
		t.Errorf("expected restored breaker open, got %s", restored.State())
	}
	if err := restored.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected restored breaker to reject before cooldown, got %v", err)
	}

	restored.nowFunc = func() time.Time { return now.Add(61 * time.Minute) }
	if restored.State() != CircuitHalfOpen {
		t.Errorf("expected half-open after cooldown, got %s", restored.State())
	}
}

func TestCircuitBreaker_RestoreHalfOpenWithoutNextAttempt(t *testing.T) {
	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	cb.nowFunc = func() time.Time { return failedAt.Add(2 * time.Hour) }

	cb.Restore(model.BreakerState{FailureCount: 4, State: model.CircuitHalfOpen, LastFailureAt: &failedAt})

	if cb.State() != CircuitHalfOpen {
		t.Errorf("expected half-open, got %s", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("expected a probe to be admitted, got %v", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	failN(cb, 2)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 100, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
				if i%2 == 0 {
					return 0, errors.New("fail")
				}
				return 1, nil
			})
		}()
	}
	wg.Wait()
	// Just verifying no race/panic.
}

func TestServiceBreakers_GetOrCreate(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig())

	cb1 := sb.Get("cineciutat")
	cb2 := sb.Get("cineciutat")
	cb3 := sb.Get("cinesa")

	if cb1 != cb2 {
		t.Error("expected same breaker for same source")
	}
	if cb1 == cb3 {
		t.Error("expected different breakers for different sources")
	}
}

func TestServiceBreakers_SnapshotRestore(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	var changed []string
	sb.OnStateChange(func(service string, _, to CircuitState) {
		changed = append(changed, service+":"+to.String())
	})

	failN(sb.Get("cinesa"), 1)
	_ = sb.Get("cineciutat")

	states := sb.States()
	if states["cinesa"] != CircuitOpen {
		t.Errorf("expected cinesa=OPEN, got %s", states["cinesa"])
	}
	if states["cineciutat"] != CircuitClosed {
		t.Errorf("expected cineciutat=CLOSED, got %s", states["cineciutat"])
	}
	if len(changed) != 1 || changed[0] != "cinesa:OPEN" {
		t.Errorf("unexpected transitions %v", changed)
	}

	other := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	other.Restore(sb.Snapshot())
	if other.States()["cinesa"] != CircuitOpen {
		t.Errorf("expected restored cinesa=OPEN, got %s", other.States()["cinesa"])
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "CLOSED"},
		{CircuitOpen, "OPEN"},
		{CircuitHalfOpen, "HALF_OPEN"},
		{CircuitState(99), "CLOSED"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
