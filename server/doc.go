// Package server is the storefront auth backend the client talks to.
//
// Routes (gorilla/mux):
//
//	POST /api/auth/register        create a password account
//	POST /api/auth/login           email + password, sets the session cookie
//	POST /api/auth/logout          revoke the session, clear the cookie
//	GET  /api/auth/check-auth      identity bearer token or session cookie
//	POST /api/auth/firebase-login  exchange an identity token for a session
//	POST /api/auth/firebase-sync   same contract, used by background sync
//	GET  /api/admin/ping           admin-only
//	GET  /healthz
//	GET  /metrics
//
// Every response body is {"success": bool, "message"?: string, "user"?: {...}}.
// Accounts live in SQLite (server/accounts); sessions and throttle counters
// live in Redis.
package server
