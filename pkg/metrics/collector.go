package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/sessionstate/pkg/session"
)

const namespace = "sessionstate"

// Collector records session provider activity as Prometheus metrics.
type Collector struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

var _ session.Metrics = (*Collector)(nil)

// NewCollector creates a Collector and registers it on reg.
// A nil reg leaves the metrics unregistered.
// It panics if the metrics are already registered on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Session operations by outcome.",
			},
			[]string{"op", "outcome"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Session operation latency, retries included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Store calls retried, by kind (transient or conflict).",
			},
			[]string{"op", "kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.operations, c.durations, c.retries)
	}
	return c
}

// ObserveOperation implements session.Metrics.
func (c *Collector) ObserveOperation(op, outcome string, d time.Duration) {
	c.operations.WithLabelValues(op, outcome).Inc()
	c.durations.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRetry implements session.Metrics.
func (c *Collector) ObserveRetry(op, kind string) {
	c.retries.WithLabelValues(op, kind).Inc()
}
