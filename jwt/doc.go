// Package jwt issues and verifies the backend session token carried in the
// storefront's HTTP-only cookie.
package jwt
