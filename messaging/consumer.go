package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cartloom/relay-go/contracts"
)

// QueueAttrApproximateDepth is the queue attribute exposing the
// approximate number of visible messages.
const QueueAttrApproximateDepth = "ApproximateNumberOfMessages"

// QueueConsumer drains a work queue on a fixed-delay schedule and resolves
// every dequeued message to exactly one terminal action: deleted after
// success, left for redelivery, or forwarded to the dead letter queue and
// then deleted.
//
// A single background goroutine runs poll cycles for as long as the
// consumer is running. Stopping takes effect between cycles; a cycle in
// flight when Stop is called completes before the consumer goes idle.
type QueueConsumer struct {
	queue   QueueService
	dlq     *DeadLetterRouter
	handler Handler

	pollInterval   time.Duration
	maxMessages    int
	visibility     time.Duration
	waitTime       time.Duration
	attributeNames []string
	stopGrace      time.Duration

	running atomic.Bool
	mu      sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	logger  *slog.Logger
	metrics MetricsCollector
}

// ConsumerOption configures the consumer
type ConsumerOption func(*QueueConsumer)

// WithPollInterval sets the fixed delay between poll cycles
func WithPollInterval(interval time.Duration) ConsumerOption {
	return func(c *QueueConsumer) {
		c.pollInterval = interval
	}
}

// WithMaxMessages sets the maximum messages requested per receive
func WithMaxMessages(n int) ConsumerOption {
	return func(c *QueueConsumer) {
		c.maxMessages = n
	}
}

// WithVisibilityTimeout sets the visibility timeout requested per receive
func WithVisibilityTimeout(d time.Duration) ConsumerOption {
	return func(c *QueueConsumer) {
		c.visibility = d
	}
}

// WithWaitTime sets the long-poll wait per receive
func WithWaitTime(d time.Duration) ConsumerOption {
	return func(c *QueueConsumer) {
		c.waitTime = d
	}
}

// WithAttributeNames selects the message attributes requested per receive
func WithAttributeNames(names []string) ConsumerOption {
	return func(c *QueueConsumer) {
		c.attributeNames = names
	}
}

// WithStopGrace sets the grace period Stop waits for the poll loop, applied
// once before and once after in-flight work is force-cancelled
func WithStopGrace(d time.Duration) ConsumerOption {
	return func(c *QueueConsumer) {
		c.stopGrace = d
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *QueueConsumer) {
		c.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(collector MetricsCollector) ConsumerOption {
	return func(c *QueueConsumer) {
		c.metrics = collector
	}
}

// NewQueueConsumer creates a consumer that dispatches messages from queue
// to handler, routing fatal failures to the dead letter sink.
func NewQueueConsumer(queue QueueService, deadLetterSink Sender, handler Handler, options ...ConsumerOption) *QueueConsumer {
	c := &QueueConsumer{
		queue:          queue,
		handler:        handler,
		pollInterval:   5 * time.Second,
		maxMessages:    10,
		visibility:     30 * time.Second,
		waitTime:       5 * time.Second,
		attributeNames: []string{contracts.AttrApproximateReceiveCount},
		stopGrace:      10 * time.Second,
		logger:         slog.Default(),
		metrics:        &NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(c)
	}

	c.dlq = NewDeadLetterRouter(deadLetterSink, WithDLQLogger(c.logger))

	return c
}

// Start begins background polling. It is idempotent: calling Start while
// the consumer is already running is a no-op. Concurrent Start calls race
// safely with exactly one winner.
func (c *QueueConsumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The run flag and the loop channels must change together: a Stop that
	// wins its swap must observe the channels of the Start it is undoing,
	// never a stale or nil set.
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Warn("queue consumer already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.cancel = cancel

	go c.run(ctx, c.stopCh, c.done)

	c.logger.Info("queue consumer started",
		"pollInterval", c.pollInterval,
		"maxMessages", c.maxMessages,
		"visibilityTimeout", c.visibility,
	)
}

// Stop halts polling and waits for the loop to go idle. A cycle already in
// flight finishes first. If the loop does not stop within the grace period,
// in-flight work is force-cancelled and Stop waits one more grace period.
// Cancelling ctx likewise force-cancels in-flight work and returns the
// context error. Stop is idempotent.
func (c *QueueConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running.CompareAndSwap(true, false) {
		c.mu.Unlock()
		c.logger.Warn("queue consumer already stopped")
		return nil
	}
	stopCh, done, cancel := c.stopCh, c.done, c.cancel
	c.mu.Unlock()

	close(stopCh)

	select {
	case <-done:
		cancel()
		c.logger.Info("queue consumer stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(c.stopGrace):
	}

	c.logger.Warn("queue consumer did not stop in time, cancelling in-flight work",
		"grace", c.stopGrace,
	)
	cancel()

	select {
	case <-done:
		c.logger.Info("queue consumer stopped after force cancel")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.stopGrace):
		return fmt.Errorf("queue consumer did not stop within %v after force cancel", 2*c.stopGrace)
	}
}

// IsRunning reports whether the consumer is currently polling.
func (c *QueueConsumer) IsRunning() bool {
	return c.running.Load()
}

// run executes poll cycles on a fixed delay until stopped. The delay is
// measured from the end of one cycle to the start of the next.
func (c *QueueConsumer) run(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		c.cycle(ctx)

		timer.Reset(c.pollInterval)
		select {
		case <-timer.C:
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cycle performs one receive and dispatches each returned message. No
// failure may escape: a receive error or a panic ends the cycle and the
// scheduler tries again on the next tick.
func (c *QueueConsumer) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("poll cycle panicked", "panic", r)
		}
	}()

	msgs, err := c.queue.Receive(ctx, ReceiveOptions{
		MaxMessages:       c.maxMessages,
		VisibilityTimeout: c.visibility,
		WaitTime:          c.waitTime,
		AttributeNames:    c.attributeNames,
	})
	c.metrics.RecordCycle(len(msgs), err)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("failed to receive messages", "error", err)
		}
		return
	}

	for i := range msgs {
		c.dispatch(ctx, &msgs[i])
	}

	c.recordDepth(ctx)
}

// dispatch resolves one delivery to exactly one terminal action.
func (c *QueueConsumer) dispatch(ctx context.Context, msg *contracts.QueueMessage) {
	start := time.Now()

	env, err := contracts.ParseEnvelope(msg.Body)
	if err != nil {
		// Soft failure: the message becomes visible again after its
		// visibility timeout and the queue redelivers it.
		c.logger.Warn("failed to parse message body, leaving for redelivery",
			"messageId", msg.ID,
			"receiveCount", msg.ReceiveCount,
			"error", err,
		)
		c.metrics.RecordMessage(OutcomeRedelivery, time.Since(start))
		return
	}

	handled, err := c.invoke(ctx, env, msg)
	switch {
	case err != nil:
		c.deadLetter(ctx, msg, err, start)

	case handled:
		if delErr := c.queue.Delete(ctx, msg.ReceiptHandle); delErr != nil {
			// The queue will redeliver; the handler is idempotent.
			c.logger.Error("failed to delete processed message",
				"messageId", msg.ID,
				"error", delErr,
			)
			c.metrics.RecordMessage(OutcomeRedelivery, time.Since(start))
			return
		}
		c.logger.Debug("message processed",
			"messageId", msg.ID,
			"messageType", env.Type,
		)
		c.metrics.RecordMessage(OutcomeProcessed, time.Since(start))

	default:
		c.logger.Info("handler reported failure, leaving for redelivery",
			"messageId", msg.ID,
			"messageType", env.Type,
			"receiveCount", msg.ReceiveCount,
		)
		c.metrics.RecordMessage(OutcomeRedelivery, time.Since(start))
	}
}

// invoke calls the handler, converting a panic into a fatal error so the
// delivery is dead-lettered rather than killing the poll loop.
func (c *QueueConsumer) invoke(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled = false
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return c.handler.Handle(ctx, env, msg)
}

// deadLetter forwards the delivery to the dead letter queue and deletes the
// original so it is not also redelivered. If the dead letter send fails the
// original is left undeleted so nothing is lost.
func (c *QueueConsumer) deadLetter(ctx context.Context, msg *contracts.QueueMessage, cause error, start time.Time) {
	if err := c.dlq.Route(ctx, msg, cause); err != nil {
		c.logger.Error("failed to route message to dead letter queue, leaving for redelivery",
			"messageId", msg.ID,
			"cause", cause,
			"error", err,
		)
		c.metrics.RecordMessage(OutcomeRedelivery, time.Since(start))
		return
	}

	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		// The original may be redelivered and dead-lettered again;
		// acceptable under at-least-once.
		c.logger.Error("failed to delete dead-lettered message",
			"messageId", msg.ID,
			"error", err,
		)
	}

	c.metrics.RecordDeadLetter()
	c.metrics.RecordMessage(OutcomeDeadLetter, time.Since(start))
}

// ApproximateDepth reads the approximate number of visible messages on the
// source queue.
func (c *QueueConsumer) ApproximateDepth(ctx context.Context) (int, error) {
	attrs, err := c.queue.QueueAttributes(ctx, []string{QueueAttrApproximateDepth})
	if err != nil {
		return 0, fmt.Errorf("failed to read queue attributes: %w", err)
	}

	raw, ok := attrs[QueueAttrApproximateDepth]
	if !ok {
		return 0, fmt.Errorf("queue attribute %s not reported", QueueAttrApproximateDepth)
	}

	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid queue depth %q: %w", raw, err)
	}
	return depth, nil
}

// recordDepth updates the queue depth gauge, best effort.
func (c *QueueConsumer) recordDepth(ctx context.Context) {
	if _, ok := c.metrics.(*NoOpMetricsCollector); ok {
		return
	}
	depth, err := c.ApproximateDepth(ctx)
	if err != nil {
		c.logger.Debug("failed to read queue depth", "error", err)
		return
	}
	c.metrics.RecordQueueDepth(float64(depth))
}
