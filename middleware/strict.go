package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/brandmart/storeauth/jwt"
	"github.com/brandmart/storeauth/session"
)

var errSessionMismatch = errors.New("session does not belong to token subject")

// StrictValidator verifies the token and that its session is registered.
// The registered role wins over the role in the token.
func StrictValidator(m *jwt.Manager, reg *session.Registry) Validator {
	return func(ctx context.Context, token string) (jwt.Session, error) {
		claims, err := m.Parse(token)
		if err != nil {
			return jwt.Session{}, err
		}
		sess, err := reg.Active(ctx, claims.SID)
		if err != nil {
			return jwt.Session{}, err
		}
		if sess.UserID != claims.UID {
			return jwt.Session{}, errSessionMismatch
		}
		out := claims.Session()
		out.Role = sess.Role
		return out, nil
	}
}

// RequireSession guards routes with [StrictValidator].
func RequireSession(m *jwt.Manager, reg *session.Registry, cookieName string) func(http.Handler) http.Handler {
	return Guard(cookieName, StrictValidator(m, reg))
}
