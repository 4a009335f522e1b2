package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cartloom/relay-go/contracts"
)

// DeadLetterRouter forwards fatally failed deliveries to the dead letter
// sink, preserving the original body and attributes together with the error
// text and original message ID.
type DeadLetterRouter struct {
	sink   Sender
	logger *slog.Logger
}

// DLQOption configures the dead letter router
type DLQOption func(*DeadLetterRouter)

// WithDLQLogger sets the logger
func WithDLQLogger(logger *slog.Logger) DLQOption {
	return func(r *DeadLetterRouter) {
		r.logger = logger
	}
}

// NewDeadLetterRouter creates a router targeting the given sink.
func NewDeadLetterRouter(sink Sender, options ...DLQOption) *DeadLetterRouter {
	r := &DeadLetterRouter{
		sink:   sink,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Route builds a dead letter record for the failed delivery and sends it to
// the sink. The caller remains responsible for deleting the original
// message once Route succeeds.
func (r *DeadLetterRouter) Route(ctx context.Context, msg *contracts.QueueMessage, cause error) error {
	rec := contracts.NewDeadLetterRecord(msg, cause)

	id, err := r.sink.Send(ctx, rec.Body, rec.Attributes)
	if err != nil {
		return fmt.Errorf("failed to send dead letter record: %w", err)
	}

	r.logger.Info("message routed to dead letter queue",
		"originalMessageId", rec.OriginalMessageID,
		"deadLetterId", id,
		"error", cause.Error(),
	)
	return nil
}
