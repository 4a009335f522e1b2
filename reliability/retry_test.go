package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy(t *testing.T) {
	t.Run("delay doubles per attempt and caps at max", func(t *testing.T) {
		p := NewRetryPolicy(3, 100*time.Millisecond, 5*time.Second)

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 200 * time.Millisecond},
			{2, 400 * time.Millisecond},
			{5, 3200 * time.Millisecond},
			{6, 5 * time.Second},
			{100, 5 * time.Second},
		}

		for _, tt := range tests {
			assert.Equal(t, tt.expected, p.Delay(tt.attempt), "attempt %d", tt.attempt)
		}
	})

	t.Run("delays are non-decreasing", func(t *testing.T) {
		p := NewRetryPolicy(10, 50*time.Millisecond, 2*time.Second)

		prev := time.Duration(0)
		for attempt := 0; attempt < 200; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, 2*time.Second)
			prev = d
		}
	})

	t.Run("huge attempt numbers do not overflow past the cap", func(t *testing.T) {
		p := NewRetryPolicy(3, time.Minute, time.Hour)
		assert.Equal(t, time.Hour, p.Delay(1000))
	})

	t.Run("normalizes degenerate values", func(t *testing.T) {
		p := NewRetryPolicy(0, 200*time.Millisecond, 100*time.Millisecond)
		assert.Equal(t, 1, p.MaxAttempts)
		assert.Equal(t, 200*time.Millisecond, p.MaxDelay)
	})
}

func TestRetryExecutor(t *testing.T) {
	t.Run("returns immediately on first success", func(t *testing.T) {
		e := NewRetryExecutor(NewRetryPolicy(3, time.Millisecond, time.Second))
		var calls int

		err := e.ExecuteWithRetry(context.Background(), func() error {
			calls++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		e := NewRetryExecutor(NewRetryPolicy(5, time.Millisecond, 10*time.Millisecond))
		var calls int

		err := e.ExecuteWithRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhaustion wraps the last cause with the attempt count", func(t *testing.T) {
		e := NewRetryExecutor(NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond))
		lastErr := errors.New("still down")
		var calls int

		err := e.ExecuteWithRetry(context.Background(), func() error {
			calls++
			return lastErr
		})

		assert.Equal(t, 3, calls)
		var retryErr *RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 3, retryErr.Attempts)
		assert.ErrorIs(t, err, lastErr)
	})

	t.Run("single attempt performs no backoff", func(t *testing.T) {
		e := NewRetryExecutor(NewRetryPolicy(1, time.Hour, time.Hour))
		var calls int

		start := time.Now()
		err := e.ExecuteWithRetry(context.Background(), func() error {
			calls++
			return errors.New("boom")
		})

		assert.Equal(t, 1, calls)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("cancellation during backoff aborts without further attempts", func(t *testing.T) {
		e := NewRetryExecutor(NewRetryPolicy(5, time.Hour, time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		var calls int

		done := make(chan error, 1)
		go func() {
			done <- e.ExecuteWithRetry(ctx, func() error {
				calls++
				return errors.New("boom")
			})
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 1, calls)
		case <-time.After(time.Second):
			t.Fatal("retry did not abort on cancellation")
		}
	})
}

func TestExecuteWithRetryValue(t *testing.T) {
	t.Run("returns the operation value", func(t *testing.T) {
		e := NewRetryExecutor(NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond))
		var calls int

		got, err := ExecuteWithRetry(context.Background(), e, func() (string, error) {
			calls++
			if calls < 2 {
				return "", errors.New("transient")
			}
			return "msg-123", nil
		})

		assert.NoError(t, err)
		assert.Equal(t, "msg-123", got)
	})

	t.Run("returns the zero value on exhaustion", func(t *testing.T) {
		e := NewRetryExecutor(NewRetryPolicy(2, time.Millisecond, 10*time.Millisecond))

		got, err := ExecuteWithRetry(context.Background(), e, func() (int, error) {
			return 7, errors.New("boom")
		})

		assert.Error(t, err)
		assert.Zero(t, got)
	})
}
