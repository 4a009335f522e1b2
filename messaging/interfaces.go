package messaging

import (
	"context"
	"time"

	"github.com/cartloom/relay-go/contracts"
)

// ReceiveOptions shapes a single long-poll receive call.
type ReceiveOptions struct {
	// MaxMessages is the most messages one receive may return.
	MaxMessages int
	// VisibilityTimeout hides delivered messages from other consumers; an
	// undeleted message becomes visible again once it elapses.
	VisibilityTimeout time.Duration
	// WaitTime bounds how long the receive blocks when no messages are
	// immediately available.
	WaitTime time.Duration
	// AttributeNames selects which message attributes the queue returns.
	AttributeNames []string
}

// QueueService is the queue the consumer drains. Implementations must
// guarantee at-least-once, not-necessarily-ordered delivery.
type QueueService interface {
	// Receive performs one blocking long-poll receive. Returning zero
	// messages after the wait time is a normal outcome.
	Receive(ctx context.Context, opts ReceiveOptions) ([]contracts.QueueMessage, error)

	// Delete removes the delivery identified by the receipt handle.
	Delete(ctx context.Context, receiptHandle string) error

	// Send enqueues a message and returns its ID.
	Send(ctx context.Context, body []byte, attributes map[string]string) (string, error)

	// QueueAttributes reads queue-level attributes such as the
	// approximate depth.
	QueueAttributes(ctx context.Context, names []string) (map[string]string, error)
}

// Sender is the subset of QueueService a dead letter sink must provide.
type Sender interface {
	Send(ctx context.Context, body []byte, attributes map[string]string) (string, error)
}

// Handler processes one unit of work. The handled result reports business
// success; false leaves the message for redelivery after its visibility
// timeout. A non-nil error (or a panic) marks the delivery fatal and routes
// it to the dead letter queue. Handlers must be idempotent under redelivery.
type Handler interface {
	Handle(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (handled bool, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (bool, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (bool, error) {
	return f(ctx, env, msg)
}

// MetricsCollector collects delivery pipeline metrics
type MetricsCollector interface {
	// RecordMessage records the terminal outcome of one delivery
	RecordMessage(outcome string, duration time.Duration)

	// RecordCycle records a completed poll cycle and the messages it received
	RecordCycle(received int, err error)

	// RecordDeadLetter records a record routed to the dead letter queue
	RecordDeadLetter()

	// RecordQueueDepth records the approximate source queue depth
	RecordQueueDepth(depth float64)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordMessage does nothing
func (n *NoOpMetricsCollector) RecordMessage(outcome string, duration time.Duration) {}

// RecordCycle does nothing
func (n *NoOpMetricsCollector) RecordCycle(received int, err error) {}

// RecordDeadLetter does nothing
func (n *NoOpMetricsCollector) RecordDeadLetter() {}

// RecordQueueDepth does nothing
func (n *NoOpMetricsCollector) RecordQueueDepth(depth float64) {}

// Delivery outcomes recorded by the consumer.
const (
	OutcomeProcessed  = "processed"   // handled, deleted from the source queue
	OutcomeRedelivery = "redelivery"  // left undeleted for the queue to redeliver
	OutcomeDeadLetter = "dead_letter" // routed to the DLQ, then deleted
)
