package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartloom/relay-go/config"
	"github.com/cartloom/relay-go/contracts"
	"github.com/cartloom/relay-go/messaging"
	"github.com/cartloom/relay-go/transports/memory"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Consumer.PollIntervalSeconds = 1
	cfg.Consumer.WaitTimeSeconds = 1
	cfg.Consumer.StopGraceSeconds = 2
	return cfg
}

func TestNewClient(t *testing.T) {
	t.Run("rejects an invalid configuration", func(t *testing.T) {
		cfg := config.Default()
		cfg.Broker.DeadLetterQueue = cfg.Broker.Queue

		_, err := NewClient(cfg, messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (bool, error) {
			return true, nil
		}))

		assert.Error(t, err)
	})

	t.Run("exposes a shared breaker registry", func(t *testing.T) {
		client, err := NewClient(testConfig(), messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (bool, error) {
			return true, nil
		}), WithQueueService(memory.NewQueue(), memory.NewQueue()))
		require.NoError(t, err)

		cb := client.Breakers().GetOrCreate("publisher")
		assert.Same(t, cb, client.Breakers().GetOrCreate("publisher"))
	})
}

func TestClientRoundTrip(t *testing.T) {
	source := memory.NewQueue()
	dlq := memory.NewQueue()

	received := make(chan string, 1)
	handler := messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (bool, error) {
		received <- env.Type
		return true, nil
	})

	client, err := NewClient(testConfig(), handler, WithQueueService(source, dlq))
	require.NoError(t, err)

	env := &contracts.Envelope{
		Type: "OrderPlaced",
		Body: json.RawMessage(`{"orderId":"o-1"}`),
	}
	_, err = client.Publisher().PublishEnvelope(context.Background(), env, map[string]string{"TraceId": "trace-1"})
	require.NoError(t, err)
	require.Equal(t, 1, source.Len())

	client.Start()

	select {
	case msgType := <-received:
		assert.Equal(t, "OrderPlaced", msgType)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not consumed")
	}

	assert.Eventually(t, func() bool {
		return source.Len() == 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, dlq.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Close(ctx))
}
