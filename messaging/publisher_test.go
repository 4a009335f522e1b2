package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartloom/relay-go/contracts"
	"github.com/cartloom/relay-go/reliability"
)

// flakySink fails a scripted number of sends before succeeding.
type flakySink struct {
	mu        sync.Mutex
	failures  int
	calls     int
	lastBody  []byte
	lastAttrs map[string]string
}

func (s *flakySink) Send(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("broker unavailable")
	}
	s.lastBody = body
	s.lastAttrs = attributes
	return "msg-1", nil
}

func (s *flakySink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestRetry(maxAttempts int) *reliability.RetryExecutor {
	return reliability.NewRetryExecutor(
		reliability.NewRetryPolicy(maxAttempts, time.Millisecond, 10*time.Millisecond),
	)
}

func TestReliablePublisher(t *testing.T) {
	t.Run("absorbs transient failures", func(t *testing.T) {
		sink := &flakySink{failures: 2}
		p := NewReliablePublisher(sink, newTestRetry(3))

		id, err := p.Send(context.Background(), []byte("payload"), nil)

		require.NoError(t, err)
		assert.Equal(t, "msg-1", id)
		assert.Equal(t, 3, sink.callCount())
	})

	t.Run("surfaces a retry error when attempts are exhausted", func(t *testing.T) {
		sink := &flakySink{failures: 10}
		p := NewReliablePublisher(sink, newTestRetry(3))

		_, err := p.Send(context.Background(), []byte("payload"), nil)

		var retryErr *reliability.RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 3, retryErr.Attempts)
		assert.Equal(t, 3, sink.callCount())
	})

	t.Run("open breaker fails fast without touching the broker", func(t *testing.T) {
		sink := &flakySink{}
		cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(1))
		cb.RecordFailure()
		require.Equal(t, reliability.StateOpen, cb.State())

		p := NewReliablePublisher(sink, newTestRetry(2), WithPublisherBreaker(cb))

		_, err := p.Send(context.Background(), []byte("payload"), nil)

		assert.Error(t, err)
		assert.Equal(t, 0, sink.callCount())
	})

	t.Run("breaker counts send failures", func(t *testing.T) {
		sink := &flakySink{failures: 10}
		cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(3))
		p := NewReliablePublisher(sink, newTestRetry(3), WithPublisherBreaker(cb))

		_, err := p.Send(context.Background(), []byte("payload"), nil)

		assert.Error(t, err)
		assert.Equal(t, reliability.StateOpen, cb.State())
	})
}

func TestPublishEnvelope(t *testing.T) {
	t.Run("assigns id and timestamp and serializes", func(t *testing.T) {
		sink := &flakySink{}
		p := NewReliablePublisher(sink, newTestRetry(1))

		env := &contracts.Envelope{Type: "OrderPlaced"}
		_, err := p.PublishEnvelope(context.Background(), env, map[string]string{"TraceId": "trace-1"})

		require.NoError(t, err)
		assert.NotEmpty(t, env.ID)
		assert.NotEmpty(t, env.Timestamp)

		parsed, err := contracts.ParseEnvelope(sink.lastBody)
		require.NoError(t, err)
		assert.Equal(t, env.ID, parsed.ID)
		assert.Equal(t, "trace-1", sink.lastAttrs["TraceId"])
	})

	t.Run("rejects an envelope without a type", func(t *testing.T) {
		sink := &flakySink{}
		p := NewReliablePublisher(sink, newTestRetry(1))

		_, err := p.PublishEnvelope(context.Background(), &contracts.Envelope{}, nil)

		assert.ErrorIs(t, err, contracts.ErrInvalidEnvelope)
		assert.Equal(t, 0, sink.callCount())
	})
}
