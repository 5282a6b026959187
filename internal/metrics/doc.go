// Package metrics records scheduler counters in a Prometheus registry and
// keeps the in-process copies used for snapshots, including per-stream
// latency percentiles.
package metrics
