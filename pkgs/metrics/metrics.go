package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SubmissionOutcomes counts terminal pipeline outcomes
	SubmissionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grovia_submission_outcomes_total",
			Help: "Total number of submissions by terminal outcome",
		},
		[]string{"outcome"},
	)

	// LifecycleEvents counts emitted lifecycle events, fed by the event collector
	LifecycleEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grovia_lifecycle_events_total",
			Help: "Total number of lifecycle events by type",
		},
		[]string{"event_type"},
	)

	ScoringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grovia_scoring_duration_seconds",
			Help:    "Duration of scoring service calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	MintDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grovia_mint_duration_seconds",
			Help:    "Duration of mint calls including confirmation",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"kind", "result"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grovia_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	// StaleSubmissions is the number of records stuck in a non-terminal state
	StaleSubmissions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grovia_stale_submissions",
			Help: "Number of submissions stuck in a non-terminal state",
		},
	)
)

func init() {
	prometheus.MustRegister(SubmissionOutcomes)
	prometheus.MustRegister(LifecycleEvents)
	prometheus.MustRegister(ScoringDuration)
	prometheus.MustRegister(MintDuration)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(StaleSubmissions)
}

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// ResultLabel maps an error to a result label
func ResultLabel(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
