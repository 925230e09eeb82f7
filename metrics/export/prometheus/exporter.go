package prometheus

import (
	"net/http"

	"github.com/brandmart/storeauth"
	"github.com/brandmart/storeauth/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() storeauth.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter is a prom.Collector that reads a client snapshot on
// every scrape.
type PrometheusExporter struct {
	source       metricsSource
	counters     []*prom.Desc
	histograms   []*prom.Desc
	auditDropped *prom.Desc
}

var _ prom.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter creates an exporter reading from client.
func NewPrometheusExporter(client *storeauth.Client) *PrometheusExporter {
	return NewPrometheusExporterFromSource(client)
}

// NewPrometheusExporterFromSource creates an exporter from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:       source,
		counters:     make([]*prom.Desc, len(internaldefs.CounterDefs)),
		histograms:   make([]*prom.Desc, len(internaldefs.HistogramDefs)),
		auditDropped: prom.NewDesc(internaldefs.AuditDroppedName, "Dropped audit events due to dispatcher backpressure.", nil, nil),
	}
	for i, def := range internaldefs.CounterDefs {
		p.counters[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		p.histograms[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	return p
}

// Describe implements prom.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prom.Desc) {
	for _, d := range p.counters {
		ch <- d
	}
	for _, d := range p.histograms {
		ch <- d
	}
	ch <- p.auditDropped
}

// Collect implements prom.Collector. A disabled source yields no series.
func (p *PrometheusExporter) Collect(ch chan<- prom.Metric) {
	if p == nil || p.source == nil {
		return
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for i, def := range internaldefs.CounterDefs {
		ch <- prom.MustNewConstMetric(p.counters[i], prom.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(raw)
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[j]
		}
		count := cumulative[len(cumulative)-1]
		ch <- prom.MustNewConstHistogram(p.histograms[i], count, internaldefs.ApproximateSum(raw), buckets)
	}

	ch <- prom.MustNewConstMetric(p.auditDropped, prom.CounterValue, float64(dropped))
}

// Handler serves the exporter from a private registry. Register the
// exporter on a shared registry instead to merge it with other collectors.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prom.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
