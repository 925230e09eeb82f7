// Package session keeps the backend's server-side session registry in Redis.
//
// A session token in the cookie is only honored while its session id is
// registered here, so logout takes effect immediately even though the token
// itself has not expired.
//
// Records are stored in a compact binary form keyed by session id, and every
// user has an index set of their session ids for revoke-all.
package session
