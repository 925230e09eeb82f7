package storeauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLogout)

	if got := m.Value(MetricLogout); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricCheckLatency, time.Second)
	if m.Value(MetricLogout) != 0 || m.Enabled() {
		t.Fatalf("nil metrics must be inert")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricGateCheck)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricGateCheck); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	observations := []time.Duration{
		10 * time.Millisecond,
		50 * time.Millisecond,
		80 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		900 * time.Millisecond,
		3 * time.Second,
		30 * time.Second,
	}
	for _, d := range observations {
		m.Observe(MetricCheckLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricCheckLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d: expected 1, got %d (%v)", i, v, buckets)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricLogout, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricLogout]; ok {
		t.Fatalf("counters must not grow histograms")
	}
}
