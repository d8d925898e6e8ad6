package session

import "time"

// Metrics receives operation and retry observations.
// pkg/metrics provides a Prometheus implementation.
type Metrics interface {
	ObserveOperation(op, outcome string, d time.Duration)
	ObserveRetry(op, kind string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) ObserveRetry(string, string)                    {}
