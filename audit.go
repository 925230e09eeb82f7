package storeauth

import (
	"context"
	"io"
	"time"

	"github.com/brandmart/storeauth/internal/audit"
)

// AuditEvent is one audit record emitted by the client.
type AuditEvent = audit.Event

// AuditSink receives audit events from the asynchronous dispatcher.
type AuditSink = audit.Sink

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel; read them with Events.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink returns a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	auditEventGateAuthenticated   = "gate_authenticated"
	auditEventGateUnauthenticated = "gate_unauthenticated"
	auditEventGateCheckFailed     = "gate_check_failed"
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLogout              = "logout"
)

// telemetry bundles the counters and the audit dispatcher shared by the
// gate and the login flows. A nil *telemetry records nothing.
type telemetry struct {
	metrics *Metrics
	audit   *audit.Dispatcher
}

func (t *telemetry) inc(id MetricID) {
	if t == nil {
		return
	}
	t.metrics.Inc(id)
}

func (t *telemetry) observe(id MetricID, d time.Duration) {
	if t == nil {
		return
	}
	t.metrics.Observe(id, d)
}

func (t *telemetry) emit(ctx context.Context, event AuditEvent) {
	if t == nil || t.audit == nil {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	t.audit.Emit(ctx, event)
}
