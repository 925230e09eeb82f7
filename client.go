package storeauth

import (
	"context"
	"sync"

	"github.com/brandmart/storeauth/internal/audit"
	"go.uber.org/zap"
)

// Client is the authentication core of the storefront. It owns one [Gate],
// one [LoginOrchestrator] and the logout flow, all sharing one [LogoutFlag].
//
// Build it with [New]; the zero value is not usable.
type Client struct {
	config  Config
	idp     IdentityProvider
	backend Backend
	router  Router
	store   Store
	flag    *LogoutFlag
	log     *zap.Logger

	gate  *Gate
	login *LoginOrchestrator

	metrics *Metrics
	audit   *audit.Dispatcher
	tel     *telemetry

	closeOnce sync.Once
}

// Start subscribes the gate to identity-provider notifications.
func (c *Client) Start(ctx context.Context) error {
	if c == nil || c.gate == nil {
		return ErrClientNotReady
	}
	return c.gate.Start(ctx)
}

// Gate returns the session gate.
func (c *Client) Gate() *Gate {
	if c == nil {
		return nil
	}
	return c.gate
}

// Login returns the login orchestrator.
func (c *Client) Login() *LoginOrchestrator {
	if c == nil {
		return nil
	}
	return c.login
}

// Flag returns the logout flag shared by the gate and the logout flow.
func (c *Client) Flag() *LogoutFlag {
	if c == nil {
		return nil
	}
	return c.flag
}

// Status is shorthand for Gate().Status().
func (c *Client) Status() AuthStatus {
	return c.Gate().Status()
}

// Config returns a copy of the active configuration.
func (c *Client) Config() Config {
	if c == nil {
		return Config{}
	}
	return cloneConfig(c.config)
}

// MetricsSnapshot returns the current counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (c *Client) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}

// Close stops the gate, cancels pending post-login navigations and drains
// the audit dispatcher. It is idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.gate.Close()
		c.login.Close()
		c.audit.Close()
	})
}
