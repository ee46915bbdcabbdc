package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider call results.
const (
	ResultOK          = "ok"
	ResultRetry       = "retry"
	ResultError       = "error"
	ResultBreakerOpen = "breaker_open"
)

// Breaker state gauge values.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

var (
	// Provider connection metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_provider_requests_total",
			Help: "Provider call attempts by connection and result",
		},
		[]string{"provider", "result"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animeindex_provider_request_duration_seconds",
			Help:    "Duration of a single provider call attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	ProviderThrottleWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animeindex_provider_throttle_wait_seconds",
			Help:    "Time spent waiting for the connection's minimum call interval",
			Buckets: []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"provider"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_provider_retries_total",
			Help: "In-call retries by connection and reason",
		},
		[]string{"provider", "reason"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animeindex_provider_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_provider_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	// Worker metrics
	TasksClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_tasks_claimed_total",
			Help: "Tasks claimed by worker lanes",
		},
		[]string{"lane", "kind"},
	)

	TaskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_task_outcomes_total",
			Help: "Finished task attempts by kind, outcome and failure category",
		},
		[]string{"kind", "outcome", "category"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animeindex_task_duration_seconds",
			Help:    "Handler execution time per task attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ClaimsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animeindex_claims_reclaimed_total",
			Help: "Abandoned claims returned to the queue or failed",
		},
	)

	ResolverDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_resolver_decisions_total",
			Help: "Resolver decisions by action and reason",
		},
		[]string{"source", "action", "reason"},
	)

	// Queue metrics
	QueueTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animeindex_queue_tasks",
			Help: "Current number of tasks by kind and status",
		},
		[]string{"kind", "status"},
	)

	ScanEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_scan_enqueue_total",
			Help: "Scanner enqueue attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	ScanRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animeindex_scan_runs_total",
			Help: "Scanner runs by result",
		},
		[]string{"result"},
	)
)

// RecordProviderCall records one provider call attempt.
func RecordProviderCall(provider, result string, duration time.Duration) {
	ProviderRequests.WithLabelValues(provider, result).Inc()
	if result != ResultBreakerOpen {
		ProviderRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordThrottleWait records time spent blocked on a connection's interval gate.
func RecordThrottleWait(provider string, waited time.Duration) {
	ProviderThrottleWait.WithLabelValues(provider).Observe(waited.Seconds())
}

// RecordRetry records an in-call retry.
func RecordRetry(provider, reason string) {
	ProviderRetries.WithLabelValues(provider, reason).Inc()
}

// RecordBreakerTransition updates the breaker gauge and transition counter.
func RecordBreakerTransition(provider, from, to string, state int) {
	BreakerTransitions.WithLabelValues(provider, from, to).Inc()
	BreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordTask records a finished task attempt.
func RecordTask(kind, outcome, category string, duration time.Duration) {
	if category == "" {
		category = "none"
	}
	TaskOutcomes.WithLabelValues(kind, outcome, category).Inc()
	TaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDecision records a resolver decision.
func RecordDecision(source, action, reason string) {
	ResolverDecisions.WithLabelValues(source, action, reason).Inc()
}

// QueueCount is one (kind, status) gauge sample.
type QueueCount struct {
	Kind   string
	Status string
	Count  int
}

// SetQueueCounts replaces the queue gauges with a fresh snapshot.
func SetQueueCounts(counts []QueueCount) {
	QueueTasks.Reset()
	for _, c := range counts {
		QueueTasks.WithLabelValues(c.Kind, c.Status).Set(float64(c.Count))
	}
}
