package storeauth

import (
	"errors"
	"strings"
	"time"
)

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig is declared in routing.go next to the policy that reads it.

/*
====================================
GATE CONFIG
====================================
*/

// GateConfig controls how the [Gate] verifies identity notifications.
type GateConfig struct {
	// CookieFallback makes a signed-out notification (outside a logout) check
	// the backend cookie session instead of settling Unauthenticated directly.
	// Sessions minted by the primary password login have no identity-provider
	// principal and are only recognized this way.
	CookieFallback bool

	// WatchBuffer is the per-watcher channel buffer used by [Gate.Watch].
	WatchBuffer int
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendConfig bounds every backend call made by the core.
type BackendConfig struct {
	Timeout time.Duration
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig controls the [LoginOrchestrator].
type LoginConfig struct {
	// NavigateDelay postpones the post-login navigation so store observers see
	// the new user before the route changes. Zero navigates inline.
	NavigateDelay time.Duration

	// DegradeOnSyncFailure finishes an interactive sign-in with a degraded
	// user when BackendSync fails after the identity provider succeeded.
	DegradeOnSyncFailure bool

	// IdentityProviderFallback enables the second step of the password
	// cascade (identity-provider password sign-in + firebase-login).
	IdentityProviderFallback bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
ROOT CONFIG
====================================
*/

// Config is the complete client configuration. Start from [DefaultConfig]
// and override fields; [Builder.Build] validates it.
type Config struct {
	Routes  RoutesConfig
	Gate    GateConfig
	Backend BackendConfig
	Login   LoginConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

// DefaultConfig returns the storefront defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Routes: defaultRoutes(),
		Gate: GateConfig{
			CookieFallback: true,
			WatchBuffer:    4,
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Login: LoginConfig{
			NavigateDelay:            16 * time.Millisecond,
			DegradeOnSyncFailure:     true,
			IdentityProviderFallback: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	// Routes
	for name, p := range map[string]string{
		"Root":         c.Routes.Root,
		"AuthPrefix":   c.Routes.AuthPrefix,
		"AdminPrefix":  c.Routes.AdminPrefix,
		"ShopPrefix":   c.Routes.ShopPrefix,
		"Login":        c.Routes.Login,
		"Unauthorized": c.Routes.Unauthorized,
		"AdminHome":    c.Routes.AdminHome,
		"UserHome":     c.Routes.UserHome,
	} {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Routes." + name + " must be an absolute path")
		}
	}
	if !underPrefix(c.Routes.Login, c.Routes.AuthPrefix) {
		return errors.New("Routes.Login must live under Routes.AuthPrefix")
	}
	if underPrefix(c.Routes.UserHome, c.Routes.AdminPrefix) {
		return errors.New("Routes.UserHome must not live under Routes.AdminPrefix")
	}
	if underPrefix(c.Routes.AdminHome, c.Routes.ShopPrefix) {
		return errors.New("Routes.AdminHome must not live under Routes.ShopPrefix")
	}
	if underPrefix(c.Routes.Unauthorized, c.Routes.AuthPrefix) {
		return errors.New("Routes.Unauthorized must not live under Routes.AuthPrefix")
	}

	// Gate
	if c.Gate.WatchBuffer < 1 {
		return errors.New("Gate WatchBuffer must be >= 1")
	}

	// Backend
	if c.Backend.Timeout <= 0 {
		return errors.New("Backend Timeout must be > 0")
	}

	// Login
	if c.Login.NavigateDelay < 0 {
		return errors.New("Login NavigateDelay must be >= 0")
	}
	if c.Login.NavigateDelay > time.Second {
		return errors.New("Login NavigateDelay must be <= 1s")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
