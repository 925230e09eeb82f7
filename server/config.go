package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the backend configuration, read from STOREAUTH_* variables.
type Config struct {
	// -------------------------------------------------------------------------
	// Listener
	// -------------------------------------------------------------------------

	Addr              string        `env:"STOREAUTH_ADDR"               envDefault:":8080"`
	ReadHeaderTimeout time.Duration `env:"STOREAUTH_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"STOREAUTH_SHUTDOWN_TIMEOUT"   envDefault:"10s"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	TrustProxyHeaders bool `env:"STOREAUTH_TRUST_PROXY_HEADERS" envDefault:"false"`

	// -------------------------------------------------------------------------
	// Storage
	// -------------------------------------------------------------------------

	DatabaseDSN   string `env:"STOREAUTH_DATABASE_DSN"   envDefault:"storeauth.db"`
	RedisAddr     string `env:"STOREAUTH_REDIS_ADDR"`
	RedisPassword string `env:"STOREAUTH_REDIS_PASSWORD"`
	RedisDB       int    `env:"STOREAUTH_REDIS_DB"       envDefault:"0"`
	RedisPrefix   string `env:"STOREAUTH_REDIS_PREFIX"   envDefault:"storeauth"`
	BootstrapFile string `env:"STOREAUTH_BOOTSTRAP_FILE"`

	// -------------------------------------------------------------------------
	// Session cookie
	// -------------------------------------------------------------------------

	JWTSecret    string        `env:"STOREAUTH_JWT_SECRET"`
	JWTIssuer    string        `env:"STOREAUTH_JWT_ISSUER"    envDefault:"storeauth"`
	SessionTTL   time.Duration `env:"STOREAUTH_SESSION_TTL"   envDefault:"24h"`
	CookieName   string        `env:"STOREAUTH_COOKIE_NAME"   envDefault:"token"`
	CookieSecure bool          `env:"STOREAUTH_COOKIE_SECURE" envDefault:"true"`
	CookieDomain string        `env:"STOREAUTH_COOKIE_DOMAIN"`

	// -------------------------------------------------------------------------
	// Identity provider
	// -------------------------------------------------------------------------

	FirebaseProjectID string `env:"STOREAUTH_FIREBASE_PROJECT_ID"`
	FirebaseJWKSURL   string `env:"STOREAUTH_FIREBASE_JWKS_URL"`
	FirebaseIssuer    string `env:"STOREAUTH_FIREBASE_ISSUER"`

	// -------------------------------------------------------------------------
	// Throttling
	// -------------------------------------------------------------------------

	MaxLoginAttempts int           `env:"STOREAUTH_MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCooldown    time.Duration `env:"STOREAUTH_LOGIN_COOLDOWN"     envDefault:"15m"`
	IPThrottle       bool          `env:"STOREAUTH_IP_THROTTLE"        envDefault:"true"`
	MaxSyncAttempts  int           `env:"STOREAUTH_MAX_SYNC_ATTEMPTS"  envDefault:"30"`
	SyncWindow       time.Duration `env:"STOREAUTH_SYNC_WINDOW"        envDefault:"1m"`

	// DevMode runs Redis in-process and relaxes cookie security.
	DevMode bool `env:"STOREAUTH_DEV_MODE" envDefault:"false"`
}

// LoadConfig parses the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DevMode {
		cfg.CookieSecure = false
	}
	return cfg, cfg.Validate()
}

// Validate checks the values the server cannot start without.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("STOREAUTH_JWT_SECRET must be at least 32 bytes")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be > 0")
	}
	if c.CookieName == "" {
		return errors.New("cookie name required")
	}
	if c.RedisAddr == "" && !c.DevMode {
		return errors.New("STOREAUTH_REDIS_ADDR required outside dev mode")
	}
	if c.MaxLoginAttempts <= 0 || c.LoginCooldown <= 0 {
		return errors.New("login throttle must be positive")
	}
	if c.MaxSyncAttempts <= 0 || c.SyncWindow <= 0 {
		return errors.New("sync throttle must be positive")
	}
	return nil
}
