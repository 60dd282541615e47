package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApplyDuration tracks the end-to-end latency of applying a message at
	// head office, from reception to Postgres commit
	ApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salesync_apply_duration_seconds",
		Help:    "Time taken to apply a replication message to the head-office store",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"status", "branch"}) // status: applied, duplicate, poison, transient_error

	// MessagesConsumed tracks the throughput and outcome of consumption
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesync_messages_consumed_total",
		Help: "Total number of messages handled by the head-office consumer",
	}, []string{"status", "branch"})

	// Redeliveries counts requeues triggered by transient store failures
	Redeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesync_redeliveries_total",
		Help: "Number of negative acknowledgments with requeue",
	}, []string{"branch"})
)
