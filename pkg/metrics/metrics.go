package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workflow metrics
	WorkflowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbital_workflows_total",
			Help: "Total number of workflows by state",
		},
		[]string{"state"},
	)

	WorkflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_workflow_transitions_total",
			Help: "Total number of workflow state transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	WorkflowIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbital_workflow_iterations",
			Help:    "Number of PLANNING->VALIDATING iterations a workflow took before reaching a terminal state",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
		},
	)

	// Pipeline metrics
	PipelinesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbital_pipelines_active",
			Help: "Number of pipeline executions currently in flight",
		},
		[]string{"outcome"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbital_pipeline_duration_seconds",
			Help:    "Validation pipeline duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbital_step_duration_seconds",
			Help:    "Pipeline step duration in seconds by step type and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "outcome"},
	)

	StepRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_step_retries_total",
			Help: "Total number of step retry attempts by step type",
		},
		[]string{"type"},
	)

	// Sandbox metrics
	SandboxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbital_sandboxes_total",
			Help: "Total number of sandboxes by state",
		},
		[]string{"state"},
	)

	SandboxCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbital_sandbox_create_duration_seconds",
			Help:    "Time taken to create a sandbox in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxDestroyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbital_sandbox_destroy_duration_seconds",
			Help:    "Time taken to destroy a sandbox in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxLeaksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbital_sandbox_leaks_total",
			Help: "Total number of leaked sandboxes: those the reconciler force-destroyed because their owning pipeline never released them, plus those Shutdown failed to destroy",
		},
	)

	// Event bus metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_events_published_total",
			Help: "Total number of events published by type",
		},
		[]string{"type"},
	)

	EventSubscriberOverflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_event_subscriber_overflows_total",
			Help: "Total number of events dropped because a subscriber's queue was full",
		},
		[]string{"subscriber"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbital_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbital_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbital_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbital_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkflowsTotal)
	prometheus.MustRegister(WorkflowTransitionsTotal)
	prometheus.MustRegister(WorkflowIterations)
	prometheus.MustRegister(PipelinesTotal)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepRetriesTotal)
	prometheus.MustRegister(SandboxesTotal)
	prometheus.MustRegister(SandboxCreateDuration)
	prometheus.MustRegister(SandboxDestroyDuration)
	prometheus.MustRegister(SandboxLeaksTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventSubscriberOverflowsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
