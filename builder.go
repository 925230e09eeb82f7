package storeauth

import (
	"errors"

	"github.com/brandmart/storeauth/internal/audit"
	"go.uber.org/zap"
)

// Builder assembles a [Client]. Every With* method returns the builder so
// calls chain; [Builder.Build] may be called once.
type Builder struct {
	config Config

	idp     IdentityProvider
	backend Backend
	router  Router
	store   Store
	flag    *LogoutFlag

	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityProvider sets the identity SDK. Required.
func (b *Builder) WithIdentityProvider(idp IdentityProvider) *Builder {
	b.idp = idp
	return b
}

// WithBackend sets the backend auth API. Required.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.backend = backend
	return b
}

// WithRouter sets the router used for redirects. Required.
func (b *Builder) WithRouter(router Router) *Builder {
	b.router = router
	return b
}

// WithStore sets the shared application state. Required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithLogoutFlag shares an existing flag instead of creating one.
func (b *Builder) WithLogoutFlag(flag *LogoutFlag) *Builder {
	b.flag = flag
	return b
}

// WithLogger sets the parent logger. Defaults to zap.NewNop().
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink. Audit must also be enabled in Config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the gate, the login
// orchestrator and the logout flow around one shared [LogoutFlag].
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.idp == nil {
		return nil, errors.New("identity provider required")
	}
	if b.backend == nil {
		return nil, errors.New("backend required")
	}
	if b.router == nil {
		return nil, errors.New("router required")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flag := b.flag
	if flag == nil {
		flag = NewLogoutFlag()
	}

	metrics := NewMetrics(cfg.Metrics)
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	tel := &telemetry{metrics: metrics, audit: dispatcher}

	c := &Client{
		config:  cloneConfig(cfg),
		idp:     b.idp,
		backend: b.backend,
		router:  b.router,
		store:   b.store,
		flag:    flag,
		log:     logger,
		metrics: metrics,
		audit:   dispatcher,
		tel:     tel,
	}

	c.gate = newGate(cfg, GateDeps{
		IdentityProvider: b.idp,
		Backend:          b.backend,
		Router:           b.router,
		Store:            b.store,
		Flag:             flag,
		Logger:           logger,
		Metrics:          metrics,
	}, tel)

	c.login = newLoginOrchestrator(cfg, LoginDeps{
		IdentityProvider: b.idp,
		Backend:          b.backend,
		Router:           b.router,
		Store:            b.store,
		Logger:           logger,
		Metrics:          metrics,
		Verified:         c.gate.Status,
		Refresh:          c.gate.Refresh,
	}, tel)

	b.built = true

	return c, nil
}
