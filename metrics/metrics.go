// Package metrics provides Prometheus instrumentation for the delivery
// pipeline: per-message terminal outcomes, poll cycle results, dead letter
// volume, and approximate queue depth.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "relay"
)

var (
	// MessagesTotal counts deliveries by terminal outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total deliveries resolved, labeled by terminal outcome",
		},
		[]string{"outcome"}, // outcome: processed, redelivery, dead_letter
	)

	// MessageDuration measures time from receive to terminal resolution.
	MessageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Time to resolve one delivery to a terminal action in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// PollCyclesTotal counts poll cycles by result.
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total poll cycles executed, labeled by result",
		},
		[]string{"result"}, // result: ok, error
	)

	// MessagesReceivedTotal counts messages returned by receive calls.
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total messages returned by receive calls",
		},
	)

	// DeadLettersTotal counts records routed to the dead letter queue.
	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Total records routed to the dead letter queue",
		},
	)

	// QueueDepth tracks the approximate number of visible messages on the
	// source queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Approximate number of visible messages in the source queue",
		},
	)
)

// Collector implements messaging.MetricsCollector over the package's
// Prometheus instruments.
type Collector struct{}

// NewCollector returns a Prometheus-backed metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordMessage records the terminal outcome of one delivery.
func (c *Collector) RecordMessage(outcome string, duration time.Duration) {
	MessagesTotal.WithLabelValues(outcome).Inc()
	MessageDuration.Observe(duration.Seconds())
}

// RecordCycle records a completed poll cycle and the messages it received.
func (c *Collector) RecordCycle(received int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PollCyclesTotal.WithLabelValues(result).Inc()
	if received > 0 {
		MessagesReceivedTotal.Add(float64(received))
	}
}

// RecordDeadLetter records a record routed to the dead letter queue.
func (c *Collector) RecordDeadLetter() {
	DeadLettersTotal.Inc()
}

// RecordQueueDepth records the approximate source queue depth.
func (c *Collector) RecordQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}
