// Package prometheus exposes client counters through prometheus/client_golang.
//
// [PrometheusExporter] is a Collector: it reads [storeauth.Client.MetricsSnapshot]
// on each scrape and emits const metrics. Counters are named storeauth_*_total
// and the single histogram is storeauth_gate_check_latency_seconds.
//
// The exporter never registers itself globally; callers register it or mount
// [PrometheusExporter.Handler].
package prometheus
