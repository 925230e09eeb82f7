package middleware

import (
	"context"
	"net/http"

	"github.com/brandmart/storeauth/jwt"
)

// RequireJWTOnly accepts any correctly signed, unexpired session token
// without consulting the session registry.
func RequireJWTOnly(m *jwt.Manager, cookieName string) func(http.Handler) http.Handler {
	return Guard(cookieName, func(_ context.Context, token string) (jwt.Session, error) {
		claims, err := m.Parse(token)
		if err != nil {
			return jwt.Session{}, err
		}
		return claims.Session(), nil
	})
}
