// Package middleware guards backend HTTP routes with the session cookie.
//
// # Guards
//
//   - [RequireSession] verifies the token and that its session is still
//     registered, so logged-out cookies are rejected immediately.
//   - [RequireJWTOnly] verifies the token signature and expiry only.
//   - [RequireRole] rejects sessions without the given role.
//
// Guards read the session cookie first and fall back to an
// "Authorization: Bearer" header, then store the verified [jwt.Session] in
// the request context.
package middleware
