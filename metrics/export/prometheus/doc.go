// Package prometheus exposes goGuard engine counters as a
// prometheus.Collector.
//
// Counters are named goguard_*_total and the admission latency histogram
// is goguard_admission_latency_seconds. Register the [Collector] with any
// registry, or mount [Handler] for a standalone endpoint.
package prometheus
