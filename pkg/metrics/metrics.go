package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished tracks replication messages pushed to the broker
	// Labels allow filtering by status (sent/error) and origin branch
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesync_messages_published_total",
		Help: "Total number of replication messages published to the broker",
	}, []string{"status", "branch"})

	// SyncBatchSize tracks the number of records published per full sync
	SyncBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesync_full_sync_batch_size",
		Help:    "Number of records published per full-sync run",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// SyncDuration measures how long a full branch sync takes end to end
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salesync_full_sync_duration_seconds",
		Help:    "Duration of a full-sync run in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"branch"})

	// BrokerHealth provides a binary 0/1 signal for the broker link
	// 1 = Healthy, 0 = Unhealthy (connection or channel is down)
	BrokerHealth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "salesync_broker_healthy",
		Help: "Current health of the RabbitMQ link (1 for healthy, 0 for unhealthy)",
	})

	// DeadLettered counts messages parked in the DLQ after exhausting the
	// delivery limit. If this number grows, manual intervention is required
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "salesync_dead_lettered_total",
		Help: "Messages rejected to the dead-letter queue",
	}, []string{"branch", "reason"})
)
