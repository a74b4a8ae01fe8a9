package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the counters
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpilot_runs_total",
			Help: "Total number of commands run, by terminal outcome",
		},
		[]string{"outcome"}, // complete, error, max_iterations
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridpilot_run_duration_seconds",
			Help:    "Wall time of a command run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	iterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridpilot_iterations_total",
			Help: "Total number of completed loop iterations",
		},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpilot_actions_total",
			Help: "Actions executed on the desktop",
		},
		[]string{"kind", "status"},
	)
)

var (
	oracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpilot_oracle_calls_total",
			Help: "Vision model queries by call site",
		},
		[]string{"site", "status"},
	)

	oracleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridpilot_oracle_duration_seconds",
			Help:    "Vision model query latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"site"},
	)

	stageAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridpilot_stage_attempts_total",
			Help: "Refinement stage attempts, by stage and result",
		},
		[]string{"stage", "status"},
	)
)

// RecordRun records a finished command run
func RecordRun(outcome string, d time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.Observe(d.Seconds())
}

// RecordIteration counts one completed loop iteration
func RecordIteration() {
	iterationsTotal.Inc()
}

// RecordAction records one executed action
func RecordAction(kind, status string) {
	actionsTotal.WithLabelValues(kind, status).Inc()
}

// RecordOracleCall records one vision model query
func RecordOracleCall(site, status string, d time.Duration) {
	oracleCallsTotal.WithLabelValues(site, status).Inc()
	oracleDurationSeconds.WithLabelValues(site).Observe(d.Seconds())
}

// RecordStageAttempt records one refinement stage attempt
func RecordStageAttempt(stage, status string) {
	stageAttemptsTotal.WithLabelValues(stage, status).Inc()
}

// StatusOf maps an error to a status label
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
