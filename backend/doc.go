// Package backend implements storeauth.Backend over the storefront's HTTP
// auth API.
//
// The client keeps the HTTP-only session cookie in a cookie jar, so a
// CheckAuth with an empty token verifies the cookie session the way a browser
// would. Every response is decoded from the {success, message, user}
// envelope and every failure is returned as a *storeauth.AuthError.
package backend
