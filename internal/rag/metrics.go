// Package rag — metrics.go registers the Prometheus metrics owned by the
// grounded retriever. Recording every fallback transition with its reason is
// a design requirement of the retrieval policy, not optional instrumentation:
// the thresholds are tuned from these counters.
package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the retrieval layer.
// A single instance is created per process and shared by all requests; tests
// inject a fresh prometheus.Registry (or pass nil to disable recording).
type Metrics struct {
	// requestsTotal counts completed retrievals, partitioned by the mode
	// that served them: "grounded" or "vanilla".
	requestsTotal *prometheus.CounterVec

	// fallbacksTotal counts transitions into the vanilla path, partitioned
	// by the enumerable reason tag.
	fallbacksTotal *prometheus.CounterVec

	// stageDuration records the latency of the two external calls a request
	// can make, partitioned by stage: "ground" or "search".
	stageDuration *prometheus.HistogramVec
}

// NewMetrics registers all retrieval metrics against reg and returns the
// populated Metrics. promauto.With(reg) registers into the provided registry
// rather than the global default, keeping unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "basrag",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of retrievals completed, partitioned by serving mode.",
		}, []string{"mode"}),

		fallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "basrag",
			Subsystem: "retrieval",
			Name:      "fallbacks_total",
			Help:      "Total number of fallbacks to vanilla search, partitioned by reason.",
		}, []string{"reason"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "basrag",
			Subsystem: "retrieval",
			Name:      "stage_duration_seconds",
			Help:      "Latency of the external calls made during retrieval, partitioned by stage.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage"}),
	}
}

// observeRequest records a completed retrieval in the given mode.
// Safe to call on a nil receiver.
func (m *Metrics) observeRequest(mode Mode) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(string(mode)).Inc()
}

// observeFallback records a fallback transition with its reason.
// Safe to call on a nil receiver.
func (m *Metrics) observeFallback(reason FallbackReason) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(string(reason)).Inc()
}

// observeStage records the duration of one external call.
// Safe to call on a nil receiver.
func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
