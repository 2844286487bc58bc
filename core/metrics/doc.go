// Package metrics defines the observability contract of the charge point.
// The dispatch engine reports every outbound OCPP operation as a MessageEvent
// and every consumed state transition as a TransitionEvent. Sinks such as the
// Prometheus and InfluxDB ones in infra/metrics are selected from
// configuration through the sink registry; several sinks are combined with a
// MultiSink.
package metrics
