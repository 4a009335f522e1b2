package reliability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast against a resource that is known to be failing
// and probes for recovery without flooding it. One instance guards one
// resource for the lifetime of the process.
//
// The failure counter is only meaningful while the breaker is closed; it is
// reset to zero exactly on a transition into the closed state. A success
// while closed does not clear accumulated failures.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	name             string
	failureThreshold int
	resetTimeout     time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the consecutive-failure count that opens the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithResetTimeout sets how long the circuit stays open before a probe is allowed
func WithResetTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = timeout
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithBreakerLogger sets the logger
func WithBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithClock overrides the time source, used by tests to exercise the
// reset-timeout boundary without sleeping.
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker creates a new circuit breaker in the closed state
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		resetTimeout:     30 * time.Second,
		name:             "default",
		logger:           slog.Default(),
		now:              time.Now,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Execute runs op under circuit breaker protection. When the circuit is
// open it returns a *CircuitOpenError without invoking op. A success while
// half-open closes the circuit; any op error is recorded and returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	// Check context before execution
	select {
	case <-ctx.Done():
		cb.abandon()
		return ctx.Err()
	default:
	}

	err := op()
	cb.release(err)
	return err
}

// ExecuteWithFallback runs op under breaker protection and translates every
// failure, including an open circuit, into the fallback value. The
// underlying error is swallowed; callers observe failure only through the
// fallback's return value or side effects.
func ExecuteWithFallback[T any](ctx context.Context, cb *CircuitBreaker, op func() (T, error), fallback func() T) T {
	var out T
	err := cb.Execute(ctx, func() error {
		v, opErr := op()
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	if err != nil {
		return fallback()
	}
	return out
}

// acquire decides whether a call may pass through, transitioning an expired
// open circuit to half-open. Only one probe is admitted while half-open;
// concurrent callers observe the circuit as still open.
func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		nextProbe := cb.lastFailure.Add(cb.resetTimeout)
		if cb.now().After(nextProbe) {
			cb.transition(StateHalfOpen, "reset timeout elapsed")
			cb.probing = true
			return nil
		}
		return cb.openError(nextProbe)

	case StateHalfOpen:
		if cb.probing {
			return cb.openError(cb.lastFailure.Add(cb.resetTimeout))
		}
		cb.probing = true
		return nil

	default:
		return ErrUnknownState
	}
}

// release records the outcome of a call admitted by acquire.
func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false

	if err != nil {
		cb.recordFailure()
		return
	}

	if cb.state == StateHalfOpen {
		cb.failures = 0
		cb.transition(StateClosed, "probe succeeded")
	}
}

// abandon gives up an admitted call without recording an outcome, used when
// the caller's context is cancelled before the operation runs.
func (cb *CircuitBreaker) abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// RecordFailure registers a failure observed outside Execute. While closed
// it increments the failure counter and opens the circuit at the threshold;
// a failure while half-open re-opens the circuit immediately without
// touching the counter.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordFailure()
}

func (cb *CircuitBreaker) recordFailure() {
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.transition(StateOpen, "failure threshold reached")
		}
	case StateHalfOpen:
		cb.transition(StateOpen, "probe failed")
	}
}

// Reset forces the circuit closed and clears the failure counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	if cb.state != StateClosed {
		cb.transition(StateClosed, "manual reset")
	}
}

// State returns the current state for monitoring and tests.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of the guarded resource.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// transition mutates state under the lock held by the caller.
func (cb *CircuitBreaker) transition(to State, reason string) {
	from := cb.state
	cb.state = to
	cb.logger.Info("circuit breaker state change",
		"breaker", cb.name,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
}

func (cb *CircuitBreaker) openError(nextProbe time.Time) *CircuitOpenError {
	return &CircuitOpenError{
		Name:             cb.name,
		State:            cb.state,
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		LastFailure:      cb.lastFailure,
		NextProbe:        nextProbe,
	}
}
