// Package telemetry provides structured logging (zerolog), Prometheus
// metrics and OpenTelemetry tracing for the OpenPacer transition engine.
//
// Metrics and Tracer treat a nil receiver as a no-op so instrumentation
// sites never need to guard against disabled telemetry.
package telemetry
