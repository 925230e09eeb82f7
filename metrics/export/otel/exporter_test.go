package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/brandmart/storeauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot storeauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() storeauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := storeauth.MetricsSnapshot{
		Counters:   make(map[storeauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[storeauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("storeauth-test")

	src := &fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters: map[storeauth.MetricID]uint64{
				storeauth.MetricLoginPrimarySuccess: 3,
			},
			Histograms: map[storeauth.MetricID][]uint64{
				storeauth.MetricCheckLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("storeauth-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("storeauth-test")

	src := &fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters: map[storeauth.MetricID]uint64{
				storeauth.MetricLoginPrimarySuccess: 1,
			},
			Histograms: map[storeauth.MetricID][]uint64{
				storeauth.MetricCheckLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[storeauth.MetricLoginPrimarySuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestExporterObservesValues(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("storeauth-test")

	src := &fakeSource{
		snapshot: storeauth.MetricsSnapshot{
			Counters: map[storeauth.MetricID]uint64{storeauth.MetricGateCheck: 5},
			Histograms: map[storeauth.MetricID][]uint64{
				storeauth.MetricCheckLatency: {2, 1, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 4,
	}
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	values := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				values[m.Name] = data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				values[m.Name] = data.DataPoints[0].Value
			}
		}
	}

	checks := map[string]int64{
		"storeauth_gate_check_total":                          5,
		"storeauth_audit_dropped_total":                       4,
		"storeauth_gate_check_latency_seconds_bucket_le_0_05": 3,
		"storeauth_gate_check_latency_seconds_count":          4,
	}
	for name, want := range checks {
		if got := values[name]; got != want {
			t.Fatalf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestExporterRejectsNilClient(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("storeauth-test")
	if _, err := NewOTelExporter(meter, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
