package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished tracks publish outcomes of the relay
	// status: sent, failed, skipped (row was no longer PENDING when the update landed)
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_published_total",
		Help: "Total number of outbox events handled by the relay",
	}, []string{"status", "routing_key"})

	// BatchDuration measures how long it takes to process an entire batch
	// Use this to identify performance degradation in the store or RabbitMQ
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_duration_seconds",
		Help:    "Duration of batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of due rows actually fetched in each tick
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_size",
		Help:    "Number of outbox events processed per batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// RabbitMQReconnections counts how many times the service had to restore the link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus provides a binary 0/1 signal for the broker link
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_healthy",
		Help: "Current health status of the relay (1 for healthy, 0 for unhealthy)",
	})

	// OutboxBacklog tracks the number of PENDING rows. This is the primary indicator of lag
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_outbox_backlog",
		Help: "Current number of PENDING events in the outbox table",
	})

	// OutboxStuck tracks PENDING rows that have failed at least STUCK_ATTEMPTS times.
	// Retries never stop, so a growing value needs an operator.
	OutboxStuck = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_outbox_stuck",
		Help: "Current number of PENDING events past the stuck attempt threshold",
	})
)
