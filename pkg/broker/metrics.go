package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type outcome string

const (
	outcomeSuccess outcome = "success"
	outcomeFailure outcome = "failure"
	outcomeUnknown outcome = "unknown_task"
)

// Metrics holds the Prometheus collectors a worker registers once and
// shares across its Dispatcher, Executor, and Reclaimer.
type Metrics struct {
	TasksProcessed *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	QueueDepth     *prometheus.GaugeVec
	QueueLatency   *prometheus.HistogramVec
	InFlight       prometheus.Gauge
	DeadLettered   *prometheus.CounterVec
	Reclaimed      *prometheus.CounterVec
	Promoted       prometheus.Counter
}

// NewMetrics registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backstage_tasks_processed_total",
			Help: "Total tasks processed, by outcome and task name.",
		}, []string{"outcome", "taskName"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backstage_task_duration_seconds",
			Help:    "Handler invocation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"taskName"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backstage_queue_depth",
			Help: "Stream length (entry count) per dispatched stream.",
		}, []string{"stream"}),
		QueueLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backstage_queue_latency_seconds",
			Help:    "Time from enqueue to handler start, in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"taskName"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "backstage_inflight_handlers",
			Help: "Number of handler invocations currently in flight.",
		}),
		DeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backstage_dead_lettered_total",
			Help: "Total messages routed to a dead-letter stream.",
		}, []string{"priority"}),
		Reclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backstage_reclaimed_total",
			Help: "Total pending entries claimed by the reclaimer and handed back for execution (dead-lettered claims excluded).",
		}, []string{"priority"}),
		Promoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backstage_promoted_total",
			Help: "Total delayed-set entries promoted onto a stream.",
		}),
	}
}

func (m *Metrics) observeOutcome(taskName string, o outcome, d time.Duration) {
	m.TasksProcessed.WithLabelValues(string(o), taskName).Inc()
	if o == outcomeSuccess {
		m.TaskDuration.WithLabelValues(taskName).Observe(d.Seconds())
	}
}
