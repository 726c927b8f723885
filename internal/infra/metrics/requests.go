package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		portalRequestsTotal,
		portalRequestLatencyMs,
	)
}

var (
	portalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_requests_total",
			Help: "Outbound portal requests by endpoint class (auth/token/api) and status code.",
		},
		[]string{"class", "status"},
	)

	portalRequestLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_request_latency_ms",
			Help:    "Outbound request latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"class"},
	)
)

func IncRequest(class string, status int) {
	portalRequestsTotal.WithLabelValues(norm(class), strconv.Itoa(status)).Inc()
}

// IncRequestError counts a request that never produced a status line.
func IncRequestError(class string) {
	portalRequestsTotal.WithLabelValues(norm(class), "error").Inc()
}

func ObserveRequestLatency(class string, ms float64) {
	portalRequestLatencyMs.WithLabelValues(norm(class)).Observe(ms)
}
