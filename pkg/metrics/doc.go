// Package metrics exports session provider activity to Prometheus.
//
//	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
//	provider, err := session.NewProvider(store, cfg, session.WithMetrics(collector))
//
// Registered series:
//
//	sessionstate_operations_total{op,outcome}
//	sessionstate_operation_duration_seconds{op}
//	sessionstate_retries_total{op,kind}
package metrics
