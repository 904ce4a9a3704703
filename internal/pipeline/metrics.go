package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks message processing outcomes and latency.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the pipeline metric set and registers it. A nil
// registerer leaves the metrics unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifai",
			Name:      "messages_total",
			Help:      "Processed inbound messages by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "verifai",
			Name:      "message_duration_seconds",
			Help:      "End-to-end processing time per inbound message.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.duration)
	}
	return m
}

// Outcome counts one finished message.
func (m *Metrics) Outcome(outcome string) {
	m.outcomes.WithLabelValues(outcome).Inc()
}

// Duration records one end-to-end processing time.
func (m *Metrics) Duration(d time.Duration) {
	m.duration.Observe(d.Seconds())
}
