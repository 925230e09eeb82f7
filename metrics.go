package storeauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricGateCheck counts backend verifications started by the gate.
	MetricGateCheck MetricID = iota
	// MetricGateAuthenticated counts transitions into Authenticated.
	MetricGateAuthenticated
	// MetricGateUnauthenticated counts transitions into Unauthenticated.
	MetricGateUnauthenticated
	// MetricGateCheckFailure counts verifications that failed closed.
	MetricGateCheckFailure
	// MetricGateStaleDiscarded counts verification results dropped because a newer notification arrived.
	MetricGateStaleDiscarded
	// MetricGateSuppressed counts signed-out notifications settled without a backend call during logout.
	MetricGateSuppressed
	// MetricLoginPrimarySuccess counts logins finished by the backend password endpoint.
	MetricLoginPrimarySuccess
	// MetricLoginIdentityProviderSuccess counts logins finished by the identity-provider password fallback.
	MetricLoginIdentityProviderSuccess
	// MetricLoginInteractiveSuccess counts interactive sign-ins.
	MetricLoginInteractiveSuccess
	// MetricLoginDegraded counts logins finished with a locally built user.
	MetricLoginDegraded
	// MetricLoginFailure counts failed login attempts. Cancellations are not failures.
	MetricLoginFailure
	// MetricLoginCancelled counts interactive sign-ins dismissed by the user.
	MetricLoginCancelled
	// MetricLogout counts completed logouts.
	MetricLogout
	// MetricLogoutFailure counts logouts whose provider or backend step failed.
	MetricLogoutFailure
	// MetricCheckLatency is the backend verification latency histogram.
	MetricCheckLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters shared by the gate and the login flows.
// A nil *Metrics is a valid no-op.
type Metrics struct {
	enabled    bool
	counters   [metricIDCount]paddedCounter
	histograms [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || id != MetricCheckLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Disabled metrics produce empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricCheckLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	buckets := make([]uint64, histBucketCount)
	for i := 0; i < histBucketCount; i++ {
		buckets[i] = atomic.LoadUint64(&m.histograms[MetricCheckLatency].buckets[i])
	}
	s.Histograms[MetricCheckLatency] = buckets

	return s
}

// Backend calls sit in the tens to hundreds of milliseconds, with the 30s
// timeout folded into the last bucket.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
