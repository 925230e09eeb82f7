package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/brandmart/storeauth/internal/rate"
	"github.com/brandmart/storeauth/jwt"
	"github.com/brandmart/storeauth/middleware"
	"github.com/brandmart/storeauth/server/accounts"
	"github.com/brandmart/storeauth/session"
	"github.com/brandmart/storeauth/tokenverify"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// IdentityVerifier checks identity-provider tokens. *tokenverify.Verifier
// satisfies it.
type IdentityVerifier interface {
	Verify(ctx context.Context, raw string) (tokenverify.Identity, error)
}

// Deps are the collaborators a [Server] needs. Verifier may be nil, which
// disables the identity-token endpoints.
type Deps struct {
	Accounts *accounts.Store
	Sessions *session.Registry
	Tokens   *jwt.Manager
	Limiter  *rate.Limiter
	Verifier IdentityVerifier
	Logger   *zap.Logger
	// Registry receives the server collectors. Defaults to a private registry.
	Registry *prometheus.Registry
	// Collectors are registered alongside the server metrics.
	Collectors []prometheus.Collector
}

// Server serves the auth API.
type Server struct {
	cfg      Config
	accounts *accounts.Store
	sessions *session.Registry
	tokens   *jwt.Manager
	limiter  *rate.Limiter
	verifier IdentityVerifier
	validate middleware.Validator
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *serverMetrics
	router   *mux.Router
}

// New wires a server. It does not listen.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Accounts == nil || deps.Sessions == nil || deps.Tokens == nil || deps.Limiter == nil {
		return nil, errors.New("server: accounts, sessions, tokens and limiter are required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "token"
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:      cfg,
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		limiter:  deps.Limiter,
		verifier: deps.Verifier,
		validate: middleware.StrictValidator(deps.Tokens, deps.Sessions),
		log:      log.Named("server"),
		registry: reg,
		metrics:  newServerMetrics(reg),
	}
	for _, c := range deps.Collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.metrics.instrument)

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/logout", s.handleLogout).Methods("POST")
	api.HandleFunc("/check-auth", s.handleCheckAuth).Methods("GET")
	api.HandleFunc("/firebase-login", s.handleIdentityExchange("firebase_login")).Methods("POST")
	api.HandleFunc("/firebase-sync", s.handleIdentityExchange("firebase_sync")).Methods("POST")

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(
		middleware.Guard(s.cfg.CookieName, s.validate),
		middleware.RequireRole(accounts.RoleAdmin),
	)
	admin.HandleFunc("/ping", s.handleAdminPing).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router = r
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then drains
// in-flight requests for up to cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
