package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds retry attempts and shapes the backoff curve.
// Immutable once constructed.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy creates a retry policy. MaxAttempts counts the first
// attempt, so a value of 1 performs a single call with no backoff.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}
}

// Delay returns the backoff before the retry following the given
// zero-based attempt: min(baseDelay * 2^attempt, maxDelay). Delays are
// non-decreasing across attempts and never exceed MaxDelay, including for
// attempt numbers large enough to overflow a shifted duration.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if p.BaseDelay >= p.MaxDelay {
		return p.MaxDelay
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d <<= 1
		if d <= 0 || d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// RetryExecutor absorbs transient failures of a remote call through bounded
// retries with exponential backoff. It holds no per-call state and is safe
// for concurrent use from multiple goroutines.
type RetryExecutor struct {
	policy RetryPolicy
	logger *slog.Logger
}

// RetryOption configures the retry executor
type RetryOption func(*RetryExecutor)

// WithRetryLogger sets the logger
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(e *RetryExecutor) {
		e.logger = logger
	}
}

// NewRetryExecutor creates a retry executor with the given policy
func NewRetryExecutor(policy RetryPolicy, options ...RetryOption) *RetryExecutor {
	e := &RetryExecutor{
		policy: policy,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Policy returns the executor's retry policy.
func (e *RetryExecutor) Policy() RetryPolicy {
	return e.policy
}

// ExecuteWithRetry attempts op up to MaxAttempts times, blocking between
// attempts for the policy's backoff delay. The wait is cancellable: a
// context cancellation during backoff aborts immediately with the context
// error and no further attempts. When every attempt fails the last cause is
// returned wrapped in a *RetryError annotated with the attempt count.
func (e *RetryExecutor) ExecuteWithRetry(ctx context.Context, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == e.policy.MaxAttempts-1 {
			break
		}

		delay := e.policy.Delay(attempt)
		e.logger.Debug("retrying after failure",
			"attempt", attempt+1,
			"maxAttempts", e.policy.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted after %d attempts: %w", attempt+1, ctx.Err())
		}
	}

	return &RetryError{
		Attempts: e.policy.MaxAttempts,
		LastErr:  lastErr,
	}
}

// ExecuteWithRetry runs an operation returning a value under the executor's
// retry policy.
func ExecuteWithRetry[T any](ctx context.Context, e *RetryExecutor, op func() (T, error)) (T, error) {
	var out T
	err := e.ExecuteWithRetry(ctx, func() error {
		v, opErr := op()
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
