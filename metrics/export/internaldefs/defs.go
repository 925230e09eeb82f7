package internaldefs

import (
	"github.com/brandmart/storeauth"
)

// CounterDef names one client counter for exporters.
type CounterDef struct {
	ID   storeauth.MetricID
	Name string
	Help string
}

// HistogramDef names one client histogram for exporters.
type HistogramDef struct {
	ID   storeauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: storeauth.MetricGateCheck, Name: "storeauth_gate_check_total", Help: "Backend verifications started by the gate."},
	{ID: storeauth.MetricGateAuthenticated, Name: "storeauth_gate_authenticated_total", Help: "Gate transitions into Authenticated."},
	{ID: storeauth.MetricGateUnauthenticated, Name: "storeauth_gate_unauthenticated_total", Help: "Gate transitions into Unauthenticated."},
	{ID: storeauth.MetricGateCheckFailure, Name: "storeauth_gate_check_failure_total", Help: "Gate verifications that failed closed."},
	{ID: storeauth.MetricGateStaleDiscarded, Name: "storeauth_gate_stale_discarded_total", Help: "Verification results dropped for a newer notification."},
	{ID: storeauth.MetricGateSuppressed, Name: "storeauth_gate_suppressed_total", Help: "Signed-out notifications settled during logout."},
	{ID: storeauth.MetricLoginPrimarySuccess, Name: "storeauth_login_primary_success_total", Help: "Logins finished by the backend password endpoint."},
	{ID: storeauth.MetricLoginIdentityProviderSuccess, Name: "storeauth_login_identity_provider_success_total", Help: "Logins finished by the identity-provider fallback."},
	{ID: storeauth.MetricLoginInteractiveSuccess, Name: "storeauth_login_interactive_success_total", Help: "Interactive sign-ins."},
	{ID: storeauth.MetricLoginDegraded, Name: "storeauth_login_degraded_total", Help: "Logins finished with a locally built user."},
	{ID: storeauth.MetricLoginFailure, Name: "storeauth_login_failure_total", Help: "Failed login attempts."},
	{ID: storeauth.MetricLoginCancelled, Name: "storeauth_login_cancelled_total", Help: "Interactive sign-ins dismissed by the user."},
	{ID: storeauth.MetricLogout, Name: "storeauth_logout_total", Help: "Completed logouts."},
	{ID: storeauth.MetricLogoutFailure, Name: "storeauth_logout_failure_total", Help: "Logouts with a failed provider or backend step."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: storeauth.MetricCheckLatency, Name: "storeauth_gate_check_latency_seconds", Help: "Backend verification latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "storeauth_audit_dropped_total"

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// without native histograms.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// ApproximateSum estimates the histogram sum from bucket upper bounds. The
// +Inf bucket contributes its lower bound.
func ApproximateSum(raw [8]uint64) float64 {
	var sum float64
	for i, n := range raw {
		bound := HistogramUpperBounds[len(HistogramUpperBounds)-1]
		if i < len(HistogramUpperBounds) {
			bound = HistogramUpperBounds[i]
		}
		sum += float64(n) * bound
	}
	return sum
}
