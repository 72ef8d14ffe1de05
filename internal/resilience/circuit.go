// Package resilience provides circuit breaker, retry and health tracking for
// unreliable cinema sources.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vose-cli/internal/model"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state where requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures happened and requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	return string(s.Model())
}

// Model returns the persisted name of the state.
func (s CircuitState) Model() model.CircuitState {
	switch s {
	case CircuitOpen:
		return model.CircuitOpen
	case CircuitHalfOpen:
		return model.CircuitHalfOpen
	default:
		return model.CircuitClosed
	}
}

func stateFromModel(s model.CircuitState) CircuitState {
	switch s {
	case model.CircuitOpen:
		return CircuitOpen
	case model.CircuitHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the
	// circuit. Default: 3.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe is
	// allowed. Default: 30m.
	Cooldown time.Duration

	// ShouldTrip optionally overrides which errors count as failures. If
	// nil, every non-nil error counts.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Minute,
	}
}

// CircuitBreaker implements the circuit breaker pattern for a single source.
// Its state survives restarts through Snapshot and Restore.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	failureCount  int
	lastFailureAt time.Time
	nextAttemptAt time.Time
	probing       bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// ExecuteVal runs fn through the circuit breaker, preserving its return
// value. Returns ErrCircuitOpen without calling fn if the circuit is open.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.Allow(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(err)
	return val, err
}

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && !cb.nowFunc().Before(cb.nextAttemptAt) {
		return CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether a request may proceed, moving an expired open
// circuit to half-open. Only one probe is admitted while half-open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.nowFunc().Before(cb.nextAttemptAt) {
			return ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.recordResult(nil)
}

// RecordFailure counts a failure, opening the circuit at the threshold or
// immediately when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if err == nil {
		err = eris.New("unspecified failure")
	}
	cb.recordResult(err)
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.close()
}

// Counters returns the current failure count and state for observability.
func (cb *CircuitBreaker) Counters() (failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount, cb.state
}

// Snapshot returns the durable form of the breaker.
func (cb *CircuitBreaker) Snapshot() model.BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := model.BreakerState{
		FailureCount: cb.failureCount,
		State:        cb.state.Model(),
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		snap.LastFailureAt = &t
	}
	if cb.state != CircuitClosed && !cb.nextAttemptAt.IsZero() {
		t := cb.nextAttemptAt
		snap.NextAttemptAt = &t
	}
	return snap
}

// Restore loads a previously persisted snapshot. A half-open snapshot is
// restored as open with its original retry time so the probe rule holds.
func (cb *CircuitBreaker) Restore(s model.BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = s.FailureCount
	cb.state = stateFromModel(s.State)
	cb.lastFailureAt = time.Time{}
	cb.nextAttemptAt = time.Time{}
	cb.probing = false
	if s.LastFailureAt != nil {
		cb.lastFailureAt = *s.LastFailureAt
	}
	if s.NextAttemptAt != nil {
		cb.nextAttemptAt = *s.NextAttemptAt
	}
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
	}
	if cb.state == CircuitOpen && cb.nextAttemptAt.IsZero() {
		cb.nextAttemptAt = cb.lastFailureAt.Add(cb.cfg.Cooldown)
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	if err == nil {
		cb.close()
		return
	}
	if !shouldTrip(err) {
		// Neutral outcome (e.g. caller cancelled): release a probe slot
		// without judging the source.
		if cb.state == CircuitHalfOpen {
			cb.probing = false
		}
		return
	}

	now := cb.nowFunc()
	cb.failureCount++
	cb.lastFailureAt = now

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.open(now)
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit.
		cb.open(now)
	case CircuitOpen:
		cb.nextAttemptAt = now.Add(cb.cfg.Cooldown)
	}
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.nextAttemptAt = now.Add(cb.cfg.Cooldown)
	cb.probing = false
	cb.transition(CircuitOpen)
}

func (cb *CircuitBreaker) close() {
	cb.failureCount = 0
	cb.nextAttemptAt = time.Time{}
	cb.probing = false
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers manages circuit breakers for multiple sources.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
	onChange func(service string, from, to CircuitState)
	nowFunc  func() time.Time
}

// NewServiceBreakers creates a registry of per-source circuit breakers.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// OnStateChange registers a callback that receives the service name along
// with each transition of breakers created after the call.
func (sb *ServiceBreakers) OnStateChange(fn func(service string, from, to CircuitState)) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.onChange = fn
}

// SetClock overrides the time source of breakers created after the call.
func (sb *ServiceBreakers) SetClock(now func() time.Time) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.nowFunc = now
}

// Get returns the circuit breaker for the named source, creating one if needed.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[service]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = sb.breakers[service]; ok {
		return cb
	}
	cb = sb.newBreaker(service)
	sb.breakers[service] = cb
	return cb
}

func (sb *ServiceBreakers) newBreaker(service string) *CircuitBreaker {
	cfg := sb.cfg
	if sb.onChange != nil {
		fn := sb.onChange
		cfg.OnStateChange = func(from, to CircuitState) { fn(service, from, to) }
	}
	cb := NewCircuitBreaker(cfg)
	if sb.nowFunc != nil {
		cb.nowFunc = sb.nowFunc
	}
	return cb
}

// States returns a snapshot of all circuit breaker states.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}

// Snapshot returns the durable form of every known breaker.
func (sb *ServiceBreakers) Snapshot() map[string]model.BreakerState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make(map[string]model.BreakerState, len(sb.breakers))
	for name, cb := range sb.breakers {
		out[name] = cb.Snapshot()
	}
	return out
}

// Restore replaces breaker state from a persisted snapshot.
func (sb *ServiceBreakers) Restore(states map[string]model.BreakerState) {
	for name, st := range states {
		sb.Get(name).Restore(st)
	}
}
