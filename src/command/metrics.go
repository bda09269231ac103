package command

import (
	"time"

	"market-platform/src/helpers"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts command calls and their latency.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// -----------------------------------------------------------------------------

// NewMetrics registers the command collectors on reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_platform",
			Subsystem: "command",
			Name:      "requests_total",
			Help:      "Command invocations by route, provider and outcome.",
		}, []string{"route", "provider", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "market_platform",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Command latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

// -----------------------------------------------------------------------------

func (m *Metrics) observe(route, provider string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(helpers.Kind(err))
	}
	m.requests.WithLabelValues(route, provider, status).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}
