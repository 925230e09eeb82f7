// Package rate implements the backend's Redis fixed-window throttles.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on the first hit of a window. Key
// prefixes:
//   - sl:  failed logins per email
//   - sli: failed logins per client IP
//   - sy:  identity sync calls per identity-provider uid
package rate
