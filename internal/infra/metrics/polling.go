package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		pollSessionsTotal,
		pollTicksTotal,
	)
}

var (
	pollSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_sessions_total",
			Help: "Completed correlation poll sessions by outcome (matched/timed_out/aborted).",
		},
		[]string{"outcome"},
	)

	pollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_ticks_total",
			Help: "Correlation lookups by result (miss/match/skipped/failed).",
		},
		[]string{"result"},
	)
)

func IncPollSession(outcome string) {
	pollSessionsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncPollTick(result string) {
	pollTicksTotal.WithLabelValues(norm(result)).Inc()
}
