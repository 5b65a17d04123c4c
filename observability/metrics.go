// Package observability carries the metrics, logging, and tracing glue for
// the card core.
package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type cardMetrics struct {
	authorizations *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	bankCalls      *prometheus.CounterVec
	bankLatency    *prometheus.HistogramVec
}

var (
	cardMetricsOnce sync.Once
	cardRegistry    *cardMetrics
)

// Metrics returns the lazily-initialised registry for card pipeline activity.
func Metrics() *cardMetrics {
	cardMetricsOnce.Do(func() {
		cardRegistry = &cardMetrics{
			authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cardcore",
				Subsystem: "authorization",
				Name:      "decisions_total",
				Help:      "Authorization decisions segmented by outcome.",
			}, []string{"outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cardcore",
				Subsystem: "settlement",
				Name:      "operations_total",
				Help:      "Settlement operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			bankCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cardcore",
				Subsystem: "bank",
				Name:      "calls_total",
				Help:      "CBS adapter calls segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			bankLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cardcore",
				Subsystem: "bank",
				Name:      "call_duration_seconds",
				Help:      "CBS adapter call latency by operation.",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2.5},
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			cardRegistry.authorizations,
			cardRegistry.settlements,
			cardRegistry.bankCalls,
			cardRegistry.bankLatency,
		)
	})
	return cardRegistry
}

// RecordAuthorization counts one authorization decision.
func RecordAuthorization(outcome string) {
	Metrics().authorizations.WithLabelValues(strings.ToLower(outcome)).Inc()
}

// RecordSettlement counts one settlement operation outcome.
func RecordSettlement(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Metrics().settlements.WithLabelValues(operation, outcome).Inc()
}

// ObserveBankCall records latency and outcome for one CBS adapter call.
func ObserveBankCall(op string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m := Metrics()
	m.bankCalls.WithLabelValues(op, outcome).Inc()
	m.bankLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}
