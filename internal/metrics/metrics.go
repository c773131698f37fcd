package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the scanning pipeline
type Metrics struct {
	Registry *prometheus.Registry

	NotificationsReceived *prometheus.CounterVec
	ItemsEnqueued         prometheus.Counter
	ItemsRequeued         prometheus.Counter
	ItemsDeadLettered     prometheus.Counter
	MessagesProcessed     prometheus.Counter
	ThreatsFound          prometheus.Counter
	IntelLookups          *prometheus.CounterVec
	RemediationActions    *prometheus.CounterVec
	WorkerRunDuration     prometheus.Histogram
}

// New creates and registers the pipeline metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		NotificationsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_notifications_received_total",
			Help: "Change notifications received, by provider and outcome",
		}, []string{"provider", "outcome"}),
		ItemsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_queue_items_enqueued_total",
			Help: "Work items enqueued for processing",
		}),
		ItemsRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_queue_items_requeued_total",
			Help: "Work items requeued after a retryable failure",
		}),
		ItemsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_queue_items_dead_lettered_total",
			Help: "Work items moved to the dead-letter list",
		}),
		MessagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_messages_processed_total",
			Help: "Messages run through the detection pipeline",
		}),
		ThreatsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_threats_found_total",
			Help: "Messages classified as threats",
		}),
		IntelLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_intel_lookups_total",
			Help: "Reputation lookups, by namespace and cache result",
		}, []string{"namespace", "result"}),
		RemediationActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_remediation_actions_total",
			Help: "Remediation actions performed, by action",
		}, []string{"action"}),
		WorkerRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_worker_run_duration_seconds",
			Help:    "Wall time of worker runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
