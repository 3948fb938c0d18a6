package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doss_invocations_total",
			Help: "Total number of invocation attempts by outcome status.",
		},
		[]string{"service", "handler", "status"},
	)

	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doss_invocation_duration_seconds",
			Help:    "Duration of invocation attempts, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "handler"},
	)

	journalActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doss_journal_actions_total",
			Help: "Durable actions by whether they ran or were replayed from the journal.",
		},
		[]string{"outcome"},
	)

	activeInvocations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doss_active_invocations",
			Help: "Number of invocation attempts currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal)
	prometheus.MustRegister(invocationDuration)
	prometheus.MustRegister(journalActionsTotal)
	prometheus.MustRegister(activeInvocations)

	// Pre-initialize so both series appear in /metrics with value 0 from startup.
	journalActionsTotal.WithLabelValues(ProgressExecuted)
	journalActionsTotal.WithLabelValues(ProgressReplayed)
}
