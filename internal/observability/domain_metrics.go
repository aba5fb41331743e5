package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_questions_total",
			Help: "Total number of processed questions by routed intent.",
		},
		[]string{"intent"},
	)
	gateRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_sql_gate_rejections_total",
			Help: "Total number of generated queries rejected by the safety gate.",
		},
	)
	emptyResultRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_empty_result_retries_total",
			Help: "Total number of zero-result corrective retries attempted.",
		},
	)
	emptyResultRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_empty_result_recoveries_total",
			Help: "Total number of retries that produced a non-empty result.",
		},
	)
	pipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_pipeline_failures_total",
			Help: "Total number of pipeline runs ending in a failure state.",
		},
		[]string{"state"},
	)
	questionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_question_duration_seconds",
			Help:    "End-to-end latency of a single question run.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		gateRejectionsTotal,
		emptyResultRetriesTotal,
		emptyResultRecoveriesTotal,
		pipelineFailuresTotal,
		questionDurationSeconds,
	)
}

func ObserveQuestion(intent string, duration time.Duration) {
	questionsTotal.WithLabelValues(intent).Inc()
	questionDurationSeconds.Observe(duration.Seconds())
}

func IncrementGateRejection() {
	gateRejectionsTotal.Inc()
}

func IncrementEmptyResultRetry() {
	emptyResultRetriesTotal.Inc()
}

func IncrementEmptyResultRecovery() {
	emptyResultRecoveriesTotal.Inc()
}

func IncrementPipelineFailure(state string) {
	pipelineFailuresTotal.WithLabelValues(state).Inc()
}
