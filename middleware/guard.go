package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/brandmart/storeauth/jwt"
)

type sessionContextKey struct{}

// Validator turns a raw session token into a verified session.
type Validator func(ctx context.Context, token string) (jwt.Session, error)

// SessionFromContext returns the session stored by a guard.
func SessionFromContext(ctx context.Context) (jwt.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(jwt.Session)
	return s, ok
}

// WithSession stores s in ctx the way guards do.
func WithSession(ctx context.Context, s jwt.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// Guard rejects requests whose session token does not pass validate.
func Guard(cookieName string, validate Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validate == nil {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			token, ok := SessionToken(r, cookieName)
			if !ok {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			s, err := validate(r.Context(), token)
			if err != nil {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// SessionToken extracts the session token from the cookie or the
// Authorization header.
func SessionToken(r *http.Request, cookieName string) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
