// Package otel binds goAuthClient counters and the request latency histogram to
// OpenTelemetry observable instruments.
//
// Counters map to Int64ObservableCounter. A histogram maps to one Int64ObservableGauge
// of cumulative bucket counts, distinguished by the "le" attribute, and a _count
// counter. A single callback reads [goAuthClient.Engine.MetricsSnapshot] per collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
