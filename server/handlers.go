package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brandmart/storeauth"
	"github.com/brandmart/storeauth/internal/rate"
	"github.com/brandmart/storeauth/jwt"
	"github.com/brandmart/storeauth/middleware"
	"github.com/brandmart/storeauth/server/accounts"
	"github.com/brandmart/storeauth/session"
	"github.com/brandmart/storeauth/tokenverify"
	"go.uber.org/zap"
)

const (
	maxBodyBytes     = 64 << 10
	identityProvider = "firebase"
)

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	User    *storeauth.SessionUser `json:"user,omitempty"`
}

type registerRequest struct {
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type identityRequest struct {
	Email       string `json:"email"`
	FirebaseUID string `json:"firebaseUid"`
	DisplayName string `json:"displayName,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Ping(r.Context()); err != nil {
		s.log.Warn("health: database", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	if _, err := s.sessions.Ping(r.Context()); err != nil {
		s.log.Warn("health: redis", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "redis unavailable")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeBody(w, r, &body) {
		return
	}

	a, err := s.accounts.Register(r.Context(), body.UserName, body.Email, body.Password)
	switch {
	case errors.Is(err, accounts.ErrEmailTaken):
		s.metrics.authOutcome("register", "duplicate")
		writeError(w, http.StatusConflict, "Email already registered")
		return
	case errors.Is(err, accounts.ErrInvalidInput):
		s.metrics.authOutcome("register", "invalid")
		writeError(w, http.StatusBadRequest, "Invalid registration details")
		return
	case err != nil:
		s.internalError(w, "register", err)
		return
	}

	s.metrics.authOutcome("register", "success")
	s.log.Info("account registered", zap.String("user_id", a.ID))
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Account created"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeBody(w, r, &body) {
		return
	}
	email := accounts.NormalizeEmail(body.Email)
	if email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	ip := s.clientIP(r)
	ctx := r.Context()

	if err := s.limiter.CheckLogin(ctx, email, ip); err != nil {
		s.throttled(w, r, "password", email, err)
		return
	}

	a, err := s.accounts.Authenticate(ctx, email, body.Password)
	switch {
	case errors.Is(err, accounts.ErrInvalidCredentials):
		if incErr := s.limiter.IncrementLogin(ctx, email, ip); incErr != nil {
			s.log.Warn("login throttle increment failed", zap.Error(incErr))
		}
		s.metrics.authOutcome("password", "invalid")
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	case errors.Is(err, accounts.ErrDisabled):
		s.metrics.authOutcome("password", "disabled")
		writeError(w, http.StatusForbidden, "Account disabled")
		return
	case err != nil:
		s.internalError(w, "login", err)
		return
	}

	if err := s.limiter.ResetLogin(ctx, email, ip); err != nil {
		s.log.Warn("login throttle reset failed", zap.Error(err))
	}
	if !s.issueSession(w, r, a) {
		return
	}
	s.metrics.authOutcome("password", "success")
	s.log.Info("login", zap.String("user_id", a.ID), zap.String("method", "password"))
	writeJSON(w, http.StatusOK, envelope{Success: true, User: sessionUser(a)})
}

// handleLogout is idempotent: a missing, expired or already revoked session
// still clears the cookie and succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := middleware.SessionToken(r, s.cfg.CookieName); ok {
		if claims, err := s.tokens.Parse(token); err == nil {
			if err := s.sessions.Revoke(r.Context(), claims.SID); err != nil {
				s.log.Error("logout: revoke failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
				return
			}
			s.log.Info("logout", zap.String("user_id", claims.UID))
		}
	}
	s.clearCookie(w)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Logged out"})
}

// handleCheckAuth accepts an identity-provider bearer token first. A bearer
// that fails identity verification must then be a session token; the cookie
// is used only when no bearer is presented.
func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookieToken := ""
	if c, err := r.Cookie(s.cfg.CookieName); err == nil {
		cookieToken = c.Value
	}

	raw, hasBearer := bearer(r)
	if hasBearer && s.verifier != nil {
		if id, err := s.verifier.Verify(ctx, raw); err == nil {
			s.checkIdentity(w, r, id, cookieToken)
			return
		}
	}

	token := cookieToken
	if hasBearer {
		token = raw
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	sess, err := s.validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
			return
		}
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	a, err := s.accounts.Get(ctx, sess.UserID)
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	case err != nil:
		s.internalError(w, "check-auth", err)
		return
	case a.Disabled:
		writeError(w, http.StatusForbidden, "Account disabled")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, User: sessionUser(a)})
}

// checkIdentity answers check-auth for a verified identity token. A valid
// session cookie for a different account fails the check.
func (s *Server) checkIdentity(w http.ResponseWriter, r *http.Request, id tokenverify.Identity, cookieToken string) {
	ctx := r.Context()
	a, _, err := s.accounts.Resolve(ctx, accountIdentity(id, ""))
	if err != nil {
		s.identityError(w, "check_auth", err)
		return
	}
	if a.Disabled {
		writeError(w, http.StatusForbidden, "Account disabled")
		return
	}
	if cookieToken != "" {
		if sess, err := s.validate(ctx, cookieToken); err == nil && sess.UserID != a.ID {
			s.log.Info("check-auth session belongs to another account",
				zap.String("account_id", a.ID),
				zap.String("session_user_id", sess.UserID),
			)
			writeError(w, http.StatusUnauthorized, "Session does not match identity")
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, User: sessionUser(a)})
}

// handleIdentityExchange verifies an identity-provider token, resolves the
// account and mints a session cookie. The body must name the same user the
// token asserts.
func (s *Server) handleIdentityExchange(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			writeError(w, http.StatusServiceUnavailable, "Identity provider not configured")
			return
		}
		raw, ok := bearer(r)
		if !ok {
			s.metrics.authOutcome(method, "missing_token")
			writeError(w, http.StatusUnauthorized, "Missing identity token")
			return
		}
		var body identityRequest
		if !decodeBody(w, r, &body) {
			return
		}

		ctx := r.Context()
		id, err := s.verifier.Verify(ctx, raw)
		if err != nil {
			s.metrics.authOutcome(method, "invalid_token")
			s.log.Debug("identity token rejected", zap.String("method", method), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid identity token")
			return
		}
		if body.FirebaseUID != id.UID || (body.Email != "" && accounts.NormalizeEmail(body.Email) != id.Email) {
			s.metrics.authOutcome(method, "mismatch")
			writeError(w, http.StatusBadRequest, "Identity does not match token")
			return
		}

		if err := s.limiter.CheckSync(ctx, id.UID); err != nil {
			s.throttled(w, r, method, "", err)
			return
		}

		a, created, err := s.accounts.Resolve(ctx, accountIdentity(id, body.DisplayName))
		if err != nil {
			s.identityError(w, method, err)
			return
		}
		if a.Disabled {
			s.metrics.authOutcome(method, "disabled")
			writeError(w, http.StatusForbidden, "Account disabled")
			return
		}
		if !s.issueSession(w, r, a) {
			return
		}

		s.metrics.authOutcome(method, "success")
		s.log.Info("identity exchange",
			zap.String("method", method),
			zap.String("user_id", a.ID),
			zap.Bool("created", created),
		)
		writeJSON(w, http.StatusOK, envelope{Success: true, User: sessionUser(a)})
	}
}

func (s *Server) handleAdminPing(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	s.log.Debug("admin ping", zap.String("user_id", sess.UserID))
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "pong"})
}

// issueSession registers a session and sets its cookie. It writes the error
// response itself and reports false on failure.
func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, a *accounts.Account) bool {
	sess, err := s.sessions.Create(r.Context(), a.ID, a.Role, s.tokens.TTL())
	if err != nil {
		s.log.Error("session create failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
		return false
	}
	token, err := s.tokens.Create(jwt.Session{
		UserID:    a.ID,
		SessionID: sess.SessionID,
		Role:      a.Role,
		Email:     a.Email,
	})
	if err != nil {
		_ = s.sessions.Revoke(r.Context(), sess.SessionID)
		s.internalError(w, "issue token", err)
		return false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   int(s.tokens.TTL() / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) throttled(w http.ResponseWriter, r *http.Request, method, email string, err error) {
	if errors.Is(err, rate.ErrRateLimited) {
		s.metrics.authOutcome(method, "rate_limited")
		if email != "" {
			if wait, werr := s.limiter.LoginRetryAfter(r.Context(), email); werr == nil && wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
			}
		}
		writeError(w, http.StatusTooManyRequests, "Too many attempts, try again later")
		return
	}
	s.log.Error("throttle check failed", zap.String("method", method), zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "Rate limiter unavailable")
}

func (s *Server) identityError(w http.ResponseWriter, method string, err error) {
	switch {
	case errors.Is(err, accounts.ErrEmailUnverified):
		s.metrics.authOutcome(method, "conflict")
		writeError(w, http.StatusConflict, "An account with this email already exists")
	case errors.Is(err, accounts.ErrInvalidInput):
		s.metrics.authOutcome(method, "invalid")
		writeError(w, http.StatusBadRequest, "Identity token has no email")
	default:
		s.internalError(w, method, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal error")
}

func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func accountIdentity(id tokenverify.Identity, displayName string) accounts.Identity {
	if displayName == "" {
		displayName = id.Name
	}
	return accounts.Identity{
		Provider:      identityProvider,
		ProviderUID:   id.UID,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		DisplayName:   displayName,
	}
}

func sessionUser(a *accounts.Account) *storeauth.SessionUser {
	verified := a.EmailVerified
	return &storeauth.SessionUser{
		ID:            a.ID,
		Email:         a.Email,
		UserName:      a.UserName,
		Role:          storeauth.ParseRole(a.Role),
		EmailVerified: &verified,
	}
}

func bearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) || len(h) == len(prefix) {
		return "", false
	}
	return h[len(prefix):], true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}
