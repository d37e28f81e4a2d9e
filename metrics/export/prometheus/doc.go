// Package prometheus exposes goAuthClient metrics through client_golang.
//
// [NewPrometheusExporter] accepts a [goAuthClient.Engine] and returns a
// prometheus.Collector that converts each metrics snapshot into const metrics.
// Counter names follow goauthclient_*_total. Request and refresh latency are
// reported as goauthclient_request_latency_seconds and
// goauthclient_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers mount Handler or
//     register the exporter themselves.
//   - Mutate engine state.
package prometheus
