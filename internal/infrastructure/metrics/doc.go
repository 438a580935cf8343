// Package metrics exposes Prometheus collectors for processing activity.
//
// All metrics live under the beamline_processing_ prefix:
//
//	notifications_total{event,outcome}
//	notification_duration_seconds{environment}
//	result_sets_total
//	results_total
//	last_result_timestamp_seconds
//
// Collectors are registered on an injected prometheus.Registerer so tests
// can use a private registry.
package metrics
