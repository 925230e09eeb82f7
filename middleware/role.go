package middleware

import "net/http"

// RequireRole must run after a session guard.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if s.Role != role {
				deny(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
