// Package rabbitmq adapts an AMQP broker to the queue service contract the
// consumer polls. Received deliveries stay unacknowledged while leased: the
// receipt handle maps to the delivery tag, Delete acknowledges it, and a
// lease that outlives the visibility timeout is negatively acknowledged
// with requeue so the broker redelivers the message.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cartloom/relay-go/contracts"
	"github.com/cartloom/relay-go/messaging"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// lease tracks one unacknowledged delivery.
type lease struct {
	tag   uint64
	timer *time.Timer
}

// Transport implements messaging.QueueService on top of a RabbitMQ queue.
// A single channel serves all operations, guarded by a mutex; the consumer
// drives it from one goroutine and publishers are expected to be few.
type Transport struct {
	url     string
	queue   string
	conn    *amqp.Connection
	ch      *amqp.Channel
	mu      sync.Mutex
	leases  map[string]*lease
	declare bool
	logger  *slog.Logger
	closed  bool
}

// TransportOption configures the transport
type TransportOption func(*Transport)

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithDeclareQueue controls whether the queue is declared on connect
func WithDeclareQueue(declare bool) TransportOption {
	return func(t *Transport) {
		t.declare = declare
	}
}

// NewTransport connects to the broker and binds the transport to one queue.
func NewTransport(url, queue string, options ...TransportOption) (*Transport, error) {
	t := &Transport{
		url:     url,
		queue:   queue,
		leases:  make(map[string]*lease),
		declare: true,
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(t)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if t.declare {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	t.conn = conn
	t.ch = ch

	t.logger.Info("rabbitmq transport connected", "queue", queue)
	return t, nil
}

var _ messaging.QueueService = (*Transport)(nil)

// Receive pulls up to MaxMessages deliveries without acknowledging them,
// leasing each for the visibility timeout. With nothing ready it rechecks
// until WaitTime elapses; an empty result is a normal outcome.
func (t *Transport) Receive(ctx context.Context, opts messaging.ReceiveOptions) ([]contracts.QueueMessage, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}

	deadline := time.Now().Add(opts.WaitTime)
	var batch []contracts.QueueMessage

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, ok, err := t.get()
		if err != nil {
			return nil, fmt.Errorf("failed to get message from %s: %w", t.queue, err)
		}

		if ok {
			batch = append(batch, t.leaseDelivery(msg, opts.VisibilityTimeout))
			if len(batch) >= opts.MaxMessages {
				return batch, nil
			}
			continue
		}

		if len(batch) > 0 || time.Now().After(deadline) {
			return batch, nil
		}

		timer := time.NewTimer(100 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Transport) get() (amqp.Delivery, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return amqp.Delivery{}, false, fmt.Errorf("transport closed")
	}
	return t.ch.Get(t.queue, false)
}

// leaseDelivery registers the unacked delivery under a fresh receipt handle
// and arms the visibility timer that requeues it if not deleted in time.
func (t *Transport) leaseDelivery(msg amqp.Delivery, visibility time.Duration) contracts.QueueMessage {
	handle := uuid.New().String()

	t.mu.Lock()
	l := &lease{tag: msg.DeliveryTag}
	if visibility > 0 {
		l.timer = time.AfterFunc(visibility, func() {
			t.expireLease(handle)
		})
	}
	t.leases[handle] = l
	t.mu.Unlock()

	attrs := headerAttributes(msg.Headers)
	receiveCount := headerInt(msg.Headers, "x-delivery-count")
	if receiveCount == 0 {
		receiveCount = 1
	}
	attrs[contracts.AttrApproximateReceiveCount] = fmt.Sprintf("%d", receiveCount)

	id := msg.MessageId
	if id == "" {
		id = handle
	}

	return contracts.QueueMessage{
		ID:            id,
		Body:          msg.Body,
		ReceiptHandle: handle,
		Attributes:    attrs,
		ReceiveCount:  receiveCount,
	}
}

// expireLease requeues a delivery whose visibility timeout elapsed before
// it was deleted.
func (t *Transport) expireLease(handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.leases[handle]
	if !ok || t.closed {
		return
	}
	delete(t.leases, handle)

	if err := t.ch.Nack(l.tag, false, true); err != nil {
		t.logger.Error("failed to requeue expired delivery", "error", err)
		return
	}
	t.logger.Debug("visibility timeout elapsed, delivery requeued", "receiptHandle", handle)
}

// Delete acknowledges the delivery identified by the receipt handle. A
// handle whose lease already expired is rejected; the broker owns the
// message again.
func (t *Transport) Delete(ctx context.Context, receiptHandle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.leases[receiptHandle]
	if !ok {
		return fmt.Errorf("unknown or expired receipt handle %s", receiptHandle)
	}
	delete(t.leases, receiptHandle)
	if l.timer != nil {
		l.timer.Stop()
	}

	if err := t.ch.Ack(l.tag, false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}
	return nil
}

// Send publishes a message to the transport's queue and returns its ID.
func (t *Transport) Send(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	headers := make(amqp.Table, len(attributes))
	for k, v := range attributes {
		headers[k] = v
	}

	id := uuid.New().String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", fmt.Errorf("transport closed")
	}

	err := t.ch.PublishWithContext(ctx, "", t.queue, false, false, amqp.Publishing{
		MessageId:    id,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", t.queue, err)
	}
	return id, nil
}

// QueueAttributes reports the approximate queue depth via passive declare.
func (t *Transport) QueueAttributes(ctx context.Context, names []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}

	q, err := t.ch.QueueDeclarePassive(t.queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue %s: %w", t.queue, err)
	}

	return map[string]string{
		messaging.QueueAttrApproximateDepth: fmt.Sprintf("%d", q.Messages),
	}, nil
}

// Close requeues outstanding leases and shuts down the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for handle, l := range t.leases {
		if l.timer != nil {
			l.timer.Stop()
		}
		if err := t.ch.Nack(l.tag, false, true); err != nil {
			t.logger.Error("failed to requeue delivery on close", "receiptHandle", handle, "error", err)
		}
	}
	t.leases = make(map[string]*lease)

	if err := t.ch.Close(); err != nil {
		t.logger.Error("failed to close channel", "error", err)
	}
	return t.conn.Close()
}

// headerAttributes converts AMQP headers into string attributes.
func headerAttributes(headers amqp.Table) map[string]string {
	attrs := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	return attrs
}

// headerInt safely extracts an int from headers.
func headerInt(headers amqp.Table, key string) int {
	switch v := headers[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
