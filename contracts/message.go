package contracts

// Attribute names carried on queue messages and dead letter records.
const (
	// AttrError holds the error text that caused a message to be dead-lettered.
	AttrError = "Error"
	// AttrOriginalMessageID holds the source message ID on a dead letter record.
	AttrOriginalMessageID = "OriginalMessageId"
	// AttrApproximateReceiveCount is the queue-reported delivery count.
	AttrApproximateReceiveCount = "ApproximateReceiveCount"
)

// QueueMessage is a single delivery from the queue service. It is owned by
// exactly one in-flight handler invocation; the ReceiptHandle is the only
// token that can delete that delivery.
type QueueMessage struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	Attributes    map[string]string
	ReceiveCount  int
}

// DeadLetterRecord captures a message whose handler raised an unexpected
// error. Written once, never mutated.
type DeadLetterRecord struct {
	OriginalMessageID string
	Body              []byte
	Attributes        map[string]string
}

// NewDeadLetterRecord builds a record from a failed delivery. The record
// carries all original attributes plus the error text and original message ID.
func NewDeadLetterRecord(msg *QueueMessage, cause error) DeadLetterRecord {
	attrs := make(map[string]string, len(msg.Attributes)+2)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[AttrError] = cause.Error()
	attrs[AttrOriginalMessageID] = msg.ID

	return DeadLetterRecord{
		OriginalMessageID: msg.ID,
		Body:              msg.Body,
		Attributes:        attrs,
	}
}
