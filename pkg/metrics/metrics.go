// Package metrics exposes Prometheus collectors for pipeline activity.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the pipeline packages.
type Metrics struct {
	cacheLookups     *prometheus.CounterVec
	evaluations      *prometheus.CounterVec
	tasks            *prometheus.CounterVec
	taskDuration     prometheus.Histogram
	transportFetches *prometheus.CounterVec
	activeTasks      prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil registerer
// creates unregistered collectors, which is handy in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helios",
			Name:      "cache_lookups_total",
			Help:      "Pipeline cache lookups by result (hit, miss, inflight)",
		}, []string{"result"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helios",
			Name:      "evaluations_total",
			Help:      "Completed pipeline stage evaluations by stage and outcome",
		}, []string{"stage", "outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helios",
			Name:      "tasks_total",
			Help:      "Worker tasks by outcome",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "helios",
			Name:      "task_duration_seconds",
			Help:      "Duration of worker tasks",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		transportFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helios",
			Name:      "transport_fetches_total",
			Help:      "File fetches through the transport router by scheme and outcome",
		}, []string{"scheme", "outcome"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "helios",
			Name:      "active_tasks",
			Help:      "Worker tasks currently running",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.cacheLookups, m.evaluations, m.tasks, m.taskDuration, m.transportFetches, m.activeTasks,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// CacheLookup records a cache lookup result.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Evaluation records a finished stage evaluation.
func (m *Metrics) Evaluation(stage, outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(stage, outcome).Inc()
}

// TaskStarted marks a worker task as running.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.activeTasks.Inc()
}

// TaskFinished records the outcome and duration of a worker task.
func (m *Metrics) TaskFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeTasks.Dec()
	m.tasks.WithLabelValues(outcome).Inc()
	m.taskDuration.Observe(d.Seconds())
}

// TransportFetch records a file fetch.
func (m *Metrics) TransportFetch(scheme, outcome string) {
	if m == nil {
		return
	}
	m.transportFetches.WithLabelValues(scheme, outcome).Inc()
}
