package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cartloom/relay-go/config"
	"github.com/cartloom/relay-go/messaging"
	"github.com/cartloom/relay-go/reliability"
	rabbitmqTransport "github.com/cartloom/relay-go/transports/rabbitmq"
)

// Client is the main entry point for relay-go. It wires the configured
// transport, the circuit breaker registry, the retry executor, a reliable
// publisher, and the polling consumer together.
type Client struct {
	cfg       *config.Config
	logger    *slog.Logger
	breakers  *reliability.Registry
	retry     *reliability.RetryExecutor
	queue     messaging.QueueService
	publisher *messaging.ReliablePublisher
	consumer  *messaging.QueueConsumer
	closers   []func() error
}

// clientConfig holds option state before construction.
type clientConfig struct {
	logger  *slog.Logger
	metrics messaging.MetricsCollector
	queue   messaging.QueueService
	dlq     messaging.Sender
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithClientLogger sets the logger, overriding the configured one
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithClientMetrics sets the metrics collector
func WithClientMetrics(collector messaging.MetricsCollector) ClientOption {
	return func(c *clientConfig) {
		c.metrics = collector
	}
}

// WithQueueService supplies the source queue and dead letter sink directly
// instead of connecting the default RabbitMQ transport. Used with the
// in-memory transport for tests and local development.
func WithQueueService(queue messaging.QueueService, deadLetterSink messaging.Sender) ClientOption {
	return func(c *clientConfig) {
		c.queue = queue
		c.dlq = deadLetterSink
	}
}

// NewClient builds a client from configuration. The handler receives every
// message the consumer dispatches.
func NewClient(cfg *config.Config, handler messaging.Handler, options ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cc := &clientConfig{
		metrics: &messaging.NoOpMetricsCollector{},
	}
	for _, opt := range options {
		opt(cc)
	}
	if cc.logger == nil {
		cc.logger = cfg.Logger.NewLogger()
	}

	client := &Client{
		cfg:    cfg,
		logger: cc.logger,
	}

	queue, dlq := cc.queue, cc.dlq
	if queue == nil {
		source, err := rabbitmqTransport.NewTransport(cfg.Broker.URL, cfg.Broker.Queue,
			rabbitmqTransport.WithTransportLogger(cc.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create source transport: %w", err)
		}
		client.closers = append(client.closers, source.Close)

		sink, err := rabbitmqTransport.NewTransport(cfg.Broker.URL, cfg.Broker.DeadLetterQueue,
			rabbitmqTransport.WithTransportLogger(cc.logger),
		)
		if err != nil {
			source.Close()
			return nil, fmt.Errorf("failed to create dead letter transport: %w", err)
		}
		client.closers = append(client.closers, sink.Close)

		queue, dlq = source, sink
	}

	client.queue = queue
	client.breakers = reliability.NewRegistry(
		reliability.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		reliability.WithResetTimeout(cfg.Breaker.ResetTimeout()),
		reliability.WithBreakerLogger(cc.logger),
	)
	client.retry = reliability.NewRetryExecutor(
		reliability.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay(), cfg.Retry.MaxDelay()),
		reliability.WithRetryLogger(cc.logger),
	)
	client.publisher = messaging.NewReliablePublisher(queue, client.retry,
		messaging.WithPublisherBreaker(client.breakers.GetOrCreate("publisher")),
		messaging.WithPublisherLogger(cc.logger),
	)
	client.consumer = messaging.NewQueueConsumer(queue, dlq, handler,
		messaging.WithPollInterval(cfg.Consumer.PollInterval()),
		messaging.WithMaxMessages(cfg.Consumer.MaxMessages),
		messaging.WithVisibilityTimeout(cfg.Consumer.VisibilityTimeout()),
		messaging.WithWaitTime(cfg.Consumer.WaitTime()),
		messaging.WithStopGrace(cfg.Consumer.StopGrace()),
		messaging.WithConsumerLogger(cc.logger),
		messaging.WithMetricsCollector(cc.metrics),
	)

	return client, nil
}

// Start begins consuming messages.
func (c *Client) Start() {
	c.consumer.Start()
}

// Stop halts the consumer, honoring the configured grace periods.
func (c *Client) Stop(ctx context.Context) error {
	return c.consumer.Stop(ctx)
}

// Publisher returns the retrying publisher bound to the source queue.
func (c *Client) Publisher() *messaging.ReliablePublisher {
	return c.publisher
}

// Consumer returns the polling consumer.
func (c *Client) Consumer() *messaging.QueueConsumer {
	return c.consumer
}

// Breakers returns the circuit breaker registry.
func (c *Client) Breakers() *reliability.Registry {
	return c.breakers
}

// Close stops the consumer and releases transport resources.
func (c *Client) Close(ctx context.Context) error {
	stopErr := c.Stop(ctx)

	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.logger.Error("failed to close transport", "error", err)
		}
	}
	return stopErr
}
