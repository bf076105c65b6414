package learning

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the learning pipeline.
type Metrics struct {
	// Worker loop
	TasksProcessedTotal *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	ClaimBatchSize      prometheus.Histogram

	// Queue maintenance sweeps
	StuckRecoveredTotal prometheus.Counter
	StuckFailedTotal    prometheus.Counter
	PrunedTotal         prometheus.Counter

	// Ingestion buffer
	BufferSize         prometheus.Gauge
	BufferDrainedTotal prometheus.Counter

	// Queue state, refreshed on each worker pass
	QueueDepth *prometheus.GaugeVec

	// Insight engine
	InsightsGeneratedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline metrics.
//
// Registration happens once per process via sync.Once; repeated calls return
// the same instance, preventing duplicate-collector panics when multiple
// components ask for metrics.
//
// All metrics are prefixed with "learnd_".
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TasksProcessedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnd_tasks_processed_total",
					Help: "Total number of tasks processed by the worker loop",
				},
				[]string{"type", "result"}, // result: completed, retry, failed
			),

			TaskDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "learnd_task_duration_seconds",
					Help:    "Duration of task handler execution in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
				},
				[]string{"type"},
			),

			ClaimBatchSize: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learnd_claim_batch_size",
					Help:    "Number of tasks claimed per worker pass",
					Buckets: prometheus.LinearBuckets(0, 2, 11), // 0 to 20
				},
			),

			StuckRecoveredTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learnd_stuck_tasks_recovered_total",
					Help: "Total number of stuck processing tasks reset to retry",
				},
			),

			StuckFailedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learnd_stuck_tasks_failed_total",
					Help: "Total number of stuck processing tasks failed terminally",
				},
			),

			PrunedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learnd_tasks_pruned_total",
					Help: "Total number of terminal tasks deleted by the retention sweep",
				},
			),

			BufferSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "learnd_buffer_size",
					Help: "Current number of memory events waiting in the ingestion buffer",
				},
			),

			BufferDrainedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "learnd_buffer_drained_total",
					Help: "Total number of memory events drained from the ingestion buffer",
				},
			),

			QueueDepth: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "learnd_queue_depth",
					Help: "Number of tasks in the queue by status",
				},
				[]string{"status"},
			),

			InsightsGeneratedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnd_insights_generated_total",
					Help: "Total number of insights created or merged",
				},
				[]string{"kind"}, // created, merged
			),
		}
	})

	return globalMetrics
}
