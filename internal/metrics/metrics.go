package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ActionsEnqueued *prometheus.CounterVec
	ActionsExecuted *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	DeadLettered    prometheus.Counter
	PendingActions  prometheus.Gauge
	Online          prometheus.Gauge
	PassDuration    prometheus.Histogram
}

// New registers the collectors on reg. Tests pass a private registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_actions_enqueued_total",
			Help: "Actions accepted into the queue.",
		}, []string{"kind"}),

		ActionsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_actions_executed_total",
			Help: "Execution attempts by outcome.",
		}, []string{"kind", "outcome"}),

		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_retries_total",
			Help: "Transient failures that left an action queued for retry.",
		}),

		DeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_dead_lettered_total",
			Help: "Actions removed after a terminal failure.",
		}),

		PendingActions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftsync_pending_actions",
			Help: "Actions currently queued.",
		}),

		Online: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftsync_online",
			Help: "1 while the network monitor reports connectivity.",
		}),

		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftsync_pass_duration_seconds",
			Help:    "Time spent in a single drain pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
