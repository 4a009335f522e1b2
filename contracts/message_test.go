package contracts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDeadLetterRecord(t *testing.T) {
	t.Run("carries original attributes plus error and message id", func(t *testing.T) {
		msg := &QueueMessage{
			ID:            "m-1",
			Body:          []byte(`{"id":"env-1","type":"OrderPlaced"}`),
			ReceiptHandle: "rh-1",
			Attributes: map[string]string{
				"TraceId":                   "trace-7",
				AttrApproximateReceiveCount: "2",
			},
		}

		rec := NewDeadLetterRecord(msg, errors.New("boom"))

		assert.Equal(t, "m-1", rec.OriginalMessageID)
		assert.Equal(t, msg.Body, rec.Body)
		assert.Equal(t, "boom", rec.Attributes[AttrError])
		assert.Equal(t, "m-1", rec.Attributes[AttrOriginalMessageID])
		assert.Equal(t, "trace-7", rec.Attributes["TraceId"])
		assert.Equal(t, "2", rec.Attributes[AttrApproximateReceiveCount])
	})

	t.Run("does not mutate the original attribute map", func(t *testing.T) {
		msg := &QueueMessage{
			ID:         "m-2",
			Attributes: map[string]string{"TraceId": "trace-8"},
		}

		NewDeadLetterRecord(msg, errors.New("boom"))

		assert.Len(t, msg.Attributes, 1)
		assert.NotContains(t, msg.Attributes, AttrError)
	})
}
