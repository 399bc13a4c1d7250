package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "panoq"

// Inference outcomes used as the "outcome" label.
const (
	OutcomeSuccess      = "success"
	OutcomePrecondition = "precondition"
	OutcomeTimeout      = "timeout"
	OutcomeMissing      = "missing_artifacts"
	OutcomeFailure      = "failure"
)

var (
	TasksConsumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_consumed_total",
			Help:      "Total number of payloads popped from the task queue.",
		},
	)

	MalformedPayloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_payloads_total",
			Help:      "Total number of task payloads dropped because they could not be decoded.",
		},
	)

	ResultsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_published_total",
			Help:      "Total number of results pushed to the result queue, labeled by success.",
		},
		[]string{"success"},
	)

	InferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_total",
			Help:      "Total number of dispatched inference requests, labeled by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	InferenceDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Wall time of dispatched inference requests (seconds).",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"mode", "outcome"},
	)

	WorkerLoopErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_loop_errors_total",
			Help:      "Total number of worker loop iterations that failed, labeled by stage.",
		},
		[]string{"stage"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by rate limiting, labeled by scope.",
		},
		[]string{"scope"},
	)

	WorkerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "1 while a worker loop is alive in this process, 0 otherwise.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksConsumedTotal,
		MalformedPayloadsTotal,
		ResultsPublishedTotal,
		InferenceTotal,
		InferenceDurationSeconds,
		WorkerLoopErrorsTotal,
		RateLimitHitsTotal,
		WorkerRunning,
	)
}
