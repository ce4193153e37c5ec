package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumerDuration tracks the latency of handling a delivery, claim and cascade included
	ConsumerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_processing_duration_seconds",
		Help:    "Time taken to handle a message from reception to ack",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"routing_key", "status"})

	// ConsumerMessages tracks the result of message consumption
	// status: applied, duplicate, skipped, malformed, failed
	ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Total number of messages processed by the consumer",
	}, []string{"routing_key", "status"})

	// InboxClaims counts claim attempts by result (claimed, duplicate, error)
	InboxClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_inbox_claims_total",
		Help: "Inbox claim attempts by result",
	}, []string{"result"})

	// InboxReleases counts claims rolled back after a failed cascade
	InboxReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_inbox_releases_total",
		Help: "Claims released because the cascade transaction failed",
	})

	// RowsCascaded counts list rows removed by deletion cascades
	RowsCascaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_rows_cascaded_total",
		Help: "Rows deleted from list tables by cascades",
	}, []string{"routing_key"})
)
