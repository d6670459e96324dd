package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus-compatible execution metrics, namespaced
// with "flowrun_":
//
//   - runs_total (counter): finished runs by workflow and terminal
//     status ("completed", "failed").
//   - suspended_runs_total (counter): suspension events by workflow.
//   - inflight_steps (gauge): steps currently executing, by workflow.
//   - step_latency_ms (histogram): step execute duration in
//     milliseconds, by workflow, step and outcome.
//   - snapshots_total (counter): snapshot captures by workflow.
//
// Expose them by registering against a registry and serving it with
// promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Pass the same Metrics value to every run via RunOptions.
type Metrics struct {
	runs          *prometheus.CounterVec
	suspendedRuns *prometheus.CounterVec
	inflightSteps *prometheus.GaugeVec
	stepLatency   *prometheus.HistogramVec
	snapshots     *prometheus.CounterVec
}

// NewMetrics creates and registers the collector set. A nil registry
// uses the global default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowrun",
			Name:      "runs_total",
			Help:      "Finished workflow runs by terminal status",
		}, []string{"workflow_id", "status"}),

		suspendedRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowrun",
			Name:      "suspended_runs_total",
			Help:      "Run suspension events",
		}, []string{"workflow_id"}),

		inflightSteps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowrun",
			Name:      "inflight_steps",
			Help:      "Steps currently executing",
		}, []string{"workflow_id"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowrun",
			Name:      "step_latency_ms",
			Help:      "Step execute duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"workflow_id", "step_id", "status"}),

		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowrun",
			Name:      "snapshots_total",
			Help:      "Snapshot captures",
		}, []string{"workflow_id"}),
	}
}

// SnapshotCaptured counts one snapshot capture for the workflow. Called
// by the snapshot manager when it is handed a Metrics value.
func (m *Metrics) SnapshotCaptured(workflowID string) {
	m.snapshots.WithLabelValues(workflowID).Inc()
}

func (m *Metrics) runFinished(workflowID, status string) {
	m.runs.WithLabelValues(workflowID, status).Inc()
}

func (m *Metrics) runSuspended(workflowID string) {
	m.suspendedRuns.WithLabelValues(workflowID).Inc()
}

func (m *Metrics) stepStarted(workflowID string) {
	m.inflightSteps.WithLabelValues(workflowID).Inc()
}

func (m *Metrics) stepFinished(workflowID, stepID, status string, latency time.Duration) {
	m.inflightSteps.WithLabelValues(workflowID).Dec()
	m.stepLatency.WithLabelValues(workflowID, stepID, status).Observe(float64(latency.Milliseconds()))
}
