// Package metrics holds the prometheus collectors of the controller and the deployer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics groups the collectors shared by the build controller and the manifest deployer
type Metrics struct {
	reconcileCounter     *prometheus.CounterVec
	jobsCreatedCounter   prometheus.Counter
	statusEventCounter   *prometheus.CounterVec
	documentCounter      *prometheus.CounterVec
	applyDurationSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with registerer
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconcileCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixbuild_reconcile_total",
				Help: "Number of BuildRequest reconciliations by outcome",
			},
			[]string{"result"},
		),
		jobsCreatedCounter: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nixbuild_jobs_created_total",
				Help: "Number of build jobs created",
			},
		),
		statusEventCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixbuild_status_events_total",
				Help: "Number of status events consumed by outcome",
			},
			[]string{"result"},
		),
		documentCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nixbuild_manifest_documents_total",
				Help: "Number of manifest documents applied by kind and outcome",
			},
			[]string{"kind", "result"},
		),
		applyDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nixbuild_manifest_apply_duration_seconds",
				Help:    "Duration of applying a whole manifest batch",
				Buckets: []float64{0.1, 0.25, .5, 1, 2, 4, 10, 20},
			},
		),
	}
	registerer.MustRegister(m.reconcileCounter, m.jobsCreatedCounter, m.statusEventCounter, m.documentCounter, m.applyDurationSeconds)
	return m
}

// NewFakeMetrics returns collectors registered with a throwaway registry
func NewFakeMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) IncReconcile(result string) {
	m.reconcileCounter.WithLabelValues(result).Inc()
}

func (m *Metrics) IncJobsCreated() {
	m.jobsCreatedCounter.Inc()
}

func (m *Metrics) IncStatusEvent(result string) {
	m.statusEventCounter.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDocument(kind, result string) {
	m.documentCounter.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveApply(duration time.Duration) {
	m.applyDurationSeconds.Observe(duration.Seconds())
}
