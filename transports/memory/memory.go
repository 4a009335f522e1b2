// Package memory provides an in-process implementation of the queue
// service contract with real visibility-timeout semantics. It backs tests
// and local development without a broker.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cartloom/relay-go/contracts"
	"github.com/cartloom/relay-go/messaging"
	"github.com/google/uuid"
)

// QueueAttrNotVisible reports messages currently leased to a consumer.
const QueueAttrNotVisible = "ApproximateNumberOfMessagesNotVisible"

// pollTick bounds how long a long-poll receive waits before rechecking for
// messages whose visibility timeout has expired.
const pollTick = 10 * time.Millisecond

type message struct {
	id            string
	body          []byte
	attributes    map[string]string
	receiveCount  int
	visibleAt     time.Time
	receiptHandle string
}

// Queue is an in-memory queue implementing messaging.QueueService.
// Received messages are leased for the requested visibility timeout and
// become receivable again if not deleted in time. Safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	messages  []*message
	byReceipt map[string]*message
	notify    chan struct{}
}

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{
		byReceipt: make(map[string]*message),
		notify:    make(chan struct{}, 1),
	}
}

var _ messaging.QueueService = (*Queue)(nil)

// Send enqueues a message and returns its generated ID.
func (q *Queue) Send(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := &message{
		id:         uuid.New().String(),
		body:       append([]byte(nil), body...),
		attributes: copyAttrs(attributes),
		visibleAt:  time.Now(),
	}

	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return msg.id, nil
}

// Receive claims up to MaxMessages visible messages, leasing each for the
// requested visibility timeout. When nothing is visible it blocks up to
// WaitTime; an empty result after the wait is a normal outcome.
func (q *Queue) Receive(ctx context.Context, opts messaging.ReceiveOptions) ([]contracts.QueueMessage, error) {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}

	deadline := time.Now().Add(opts.WaitTime)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := q.claim(opts)
		if len(batch) > 0 {
			return batch, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		wait := remaining
		if wait > pollTick {
			wait = pollTick
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// claim leases visible messages under the lock.
func (q *Queue) claim(opts messaging.ReceiveOptions) []contracts.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var batch []contracts.QueueMessage

	for _, msg := range q.messages {
		if len(batch) >= opts.MaxMessages {
			break
		}
		if msg.visibleAt.After(now) {
			continue
		}

		if msg.receiptHandle != "" {
			delete(q.byReceipt, msg.receiptHandle)
		}
		msg.receiveCount++
		msg.receiptHandle = uuid.New().String()
		msg.visibleAt = now.Add(opts.VisibilityTimeout)
		q.byReceipt[msg.receiptHandle] = msg

		attrs := copyAttrs(msg.attributes)
		attrs[contracts.AttrApproximateReceiveCount] = strconv.Itoa(msg.receiveCount)

		batch = append(batch, contracts.QueueMessage{
			ID:            msg.id,
			Body:          append([]byte(nil), msg.body...),
			ReceiptHandle: msg.receiptHandle,
			Attributes:    attrs,
			ReceiveCount:  msg.receiveCount,
		})
	}

	return batch
}

// Delete removes the delivery identified by the receipt handle. A handle
// from an expired lease is rejected: once the queue has made the message
// visible again only the newest handle can delete it.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.byReceipt[receiptHandle]
	if !ok || msg.receiptHandle != receiptHandle {
		return fmt.Errorf("unknown or expired receipt handle %s", receiptHandle)
	}

	delete(q.byReceipt, receiptHandle)
	for i, m := range q.messages {
		if m == msg {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			break
		}
	}
	return nil
}

// QueueAttributes reports approximate visible and in-flight counts.
func (q *Queue) QueueAttributes(ctx context.Context, names []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	visible, inFlight := 0, 0
	for _, msg := range q.messages {
		if msg.visibleAt.After(now) {
			inFlight++
		} else {
			visible++
		}
	}

	all := map[string]string{
		messaging.QueueAttrApproximateDepth: strconv.Itoa(visible),
		QueueAttrNotVisible:                 strconv.Itoa(inFlight),
	}
	if len(names) == 0 {
		return all, nil
	}

	attrs := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := all[name]; ok {
			attrs[name] = v
		}
	}
	return attrs, nil
}

// Len returns the total number of messages held, visible or not. Useful
// for tests to verify queue state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
