package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cartloom/relay-go/contracts"
	"github.com/cartloom/relay-go/reliability"
	"github.com/google/uuid"
)

// ReliablePublisher sends messages through a retry executor so transient
// broker failures are absorbed before the caller sees an error. A circuit
// breaker may optionally guard the send, failing fast while the broker is
// known to be down.
type ReliablePublisher struct {
	sink    Sender
	retry   *reliability.RetryExecutor
	breaker *reliability.CircuitBreaker
	logger  *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*ReliablePublisher)

// WithPublisherBreaker guards sends with the given circuit breaker
func WithPublisherBreaker(cb *reliability.CircuitBreaker) PublisherOption {
	return func(p *ReliablePublisher) {
		p.breaker = cb
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *ReliablePublisher) {
		p.logger = logger
	}
}

// NewReliablePublisher creates a publisher sending to sink under the given
// retry executor.
func NewReliablePublisher(sink Sender, retry *reliability.RetryExecutor, options ...PublisherOption) *ReliablePublisher {
	p := &ReliablePublisher{
		sink:   sink,
		retry:  retry,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Send enqueues a raw body with attributes, retrying per the executor's
// policy. When a breaker is configured each attempt passes through it, so
// an open circuit fails the attempt without touching the broker.
func (p *ReliablePublisher) Send(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	id, err := reliability.ExecuteWithRetry(ctx, p.retry, func() (string, error) {
		return p.attempt(ctx, body, attributes)
	})
	if err != nil {
		p.logger.Error("failed to publish message", "error", err)
		return "", err
	}
	return id, nil
}

func (p *ReliablePublisher) attempt(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	if p.breaker == nil {
		return p.sink.Send(ctx, body, attributes)
	}

	var id string
	err := p.breaker.Execute(ctx, func() error {
		var sendErr error
		id, sendErr = p.sink.Send(ctx, body, attributes)
		return sendErr
	})
	return id, err
}

// PublishEnvelope serializes and sends an envelope, assigning an ID and
// timestamp when absent.
func (p *ReliablePublisher) PublishEnvelope(ctx context.Context, env *contracts.Envelope, attributes map[string]string) (string, error) {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := env.Validate(); err != nil {
		return "", err
	}

	body, err := env.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope %s: %w", env.ID, err)
	}

	return p.Send(ctx, body, attributes)
}
