package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownState indicates the breaker reached an unrepresentable state.
	ErrUnknownState = errors.New("circuit breaker: unknown state")
)

// CircuitOpenError is returned by Execute when a call is rejected because
// the circuit is open or a half-open probe is already in flight.
type CircuitOpenError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextProbe        time.Time
}

func (e *CircuitOpenError) Error() string {
	switch e.State {
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: probe in flight", e.Name)
	default:
		retryIn := time.Until(e.NextProbe).Round(time.Millisecond)
		return fmt.Sprintf("circuit breaker %s open: call blocked (failures=%d/%d, retry in %v)",
			e.Name, e.Failures, e.FailureThreshold, retryIn)
	}
}

// RetryError is returned when all retry attempts are exhausted.
type RetryError struct {
	Attempts int
	LastErr  error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryError) Unwrap() error {
	return e.LastErr
}
