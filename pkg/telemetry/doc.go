// Package telemetry wires observability for the monitor: an OpenTelemetry
// tracer provider exporting over OTLP/gRPC, and Prometheus collectors for
// pass, fetch, and send outcomes. Both are optional; with no OTLP endpoint
// configured the provider is a no-op, and the metrics registry is only
// served when the run command enables the metrics listener.
package telemetry
