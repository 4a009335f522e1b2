package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/cartloom/relay-go/contracts"
)

func TestHeaderAttributes(t *testing.T) {
	t.Run("keeps string headers and drops the rest", func(t *testing.T) {
		attrs := headerAttributes(amqp.Table{
			"TraceId":          "trace-1",
			"x-delivery-count": int64(3),
			"retry":            true,
		})

		assert.Equal(t, map[string]string{"TraceId": "trace-1"}, attrs)
	})

	t.Run("nil headers yield an empty map", func(t *testing.T) {
		attrs := headerAttributes(nil)
		assert.NotNil(t, attrs)
		assert.Empty(t, attrs)
	})
}

func TestHeaderInt(t *testing.T) {
	cases := []struct {
		name  string
		value interface{}
		want  int
	}{
		{"int", 4, 4},
		{"int32", int32(5), 5},
		{"int64", int64(6), 6},
		{"float64", float64(7), 7},
		{"string is ignored", "8", 0},
		{"absent key", nil, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := amqp.Table{}
			if tc.value != nil {
				headers["x-delivery-count"] = tc.value
			}
			assert.Equal(t, tc.want, headerInt(headers, "x-delivery-count"))
		})
	}
}

func TestLeaseDelivery(t *testing.T) {
	newTransport := func() *Transport {
		return &Transport{
			queue:  "orders",
			leases: make(map[string]*lease),
		}
	}

	t.Run("first delivery defaults to receive count 1", func(t *testing.T) {
		tr := newTransport()

		msg := tr.leaseDelivery(amqp.Delivery{
			MessageId:   "m-1",
			DeliveryTag: 7,
			Body:        []byte(`{}`),
		}, 0)

		assert.Equal(t, "m-1", msg.ID)
		assert.Equal(t, 1, msg.ReceiveCount)
		assert.Equal(t, "1", msg.Attributes[contracts.AttrApproximateReceiveCount])
		assert.NotEmpty(t, msg.ReceiptHandle)
		assert.Len(t, tr.leases, 1)
	})

	t.Run("carries the broker delivery count", func(t *testing.T) {
		tr := newTransport()

		msg := tr.leaseDelivery(amqp.Delivery{
			DeliveryTag: 8,
			Headers:     amqp.Table{"x-delivery-count": int64(2), "TraceId": "trace-9"},
		}, 0)

		assert.Equal(t, 2, msg.ReceiveCount)
		assert.Equal(t, "trace-9", msg.Attributes["TraceId"])
	})

	t.Run("falls back to the receipt handle when the broker set no id", func(t *testing.T) {
		tr := newTransport()

		msg := tr.leaseDelivery(amqp.Delivery{DeliveryTag: 9}, 0)

		assert.Equal(t, msg.ReceiptHandle, msg.ID)
	})
}
