// Package internaldefs is the single table of exported metric names, help strings and
// latency bucket bounds. Both exporters read it, so a Prometheus scrape and an OTel
// collection of the same engine report identical series.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
