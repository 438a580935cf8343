// Package influxdb records processing activity in InfluxDB v2.
//
// Each received result set becomes a processing_result_set point plus one
// processing_result point per detected feature, so feature intensity can be
// trended across collections. Trigger outcomes become
// processing_notification points.
//
// The integration is optional; Connect returns ErrDisabled when
// influxdb.enabled is false and callers skip the sink.
package influxdb
