// Package otel publishes goGuard engine counters through an OpenTelemetry
// meter. Each counter becomes an Int64ObservableCounter and each histogram
// bucket an Int64ObservableGauge, all read by one callback per collection.
// Callers own the MeterProvider.
package otel
