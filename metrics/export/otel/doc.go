// Package otel binds client counters to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket; one callback reads
// [storeauth.Client.MetricsSnapshot] on each collection. Callers own the
// MeterProvider.
package otel
