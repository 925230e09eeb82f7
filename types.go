package storeauth

import (
	"context"
	"strings"
)

// Role is the authorization role carried by a [SessionUser].
type Role string

const (
	// RoleUser is the least-privileged storefront role.
	RoleUser Role = "user"
	// RoleAdmin grants access to the admin back-office.
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a backend role string. Anything that is not "admin"
// maps to [RoleUser] so an unexpected value never grants privileges.
func ParseRole(raw string) Role {
	if strings.EqualFold(strings.TrimSpace(raw), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Valid reports whether r is one of the two supported roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// SessionUser is the backend-verified application user. It is the only
// source of the authorization role.
type SessionUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	UserName      string `json:"userName,omitempty"`
	Role          Role   `json:"role"`
	EmailVerified *bool  `json:"emailVerified,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *SessionUser) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Principal is the identity provider's view of a signed-in user. It is not an
// application account and never carries a role.
type Principal struct {
	UID           string
	Email         string
	EmailVerified bool
	DisplayName   string
	ProviderID    string
}

// IdentityAssertion proves control of an external identity. It lives for a
// single login attempt and is consumed once by [BackendSync].
type IdentityAssertion struct {
	Token         string
	UID           string
	Email         string
	EmailVerified bool
	DisplayName   string
}

// AuthStatus is the reconciled view exposed by the [Gate].
type AuthStatus struct {
	Checked       bool
	Authenticated bool
	User          *SessionUser
}

// BackendResponse is the decoded {success, message, user} envelope returned by
// the backend auth endpoints. User is nil when the backend omitted it.
type BackendResponse struct {
	Success bool
	Message string
	User    *SessionUser
}

// IdentityProvider is the identity SDK consumed by the core.
//
// OnPrincipalChanged must deliver notifications in order and call fn once with
// the current state right after subscribing. A nil principal means signed out.
type IdentityProvider interface {
	SignInInteractive(ctx context.Context) (*Principal, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Principal, error)
	OnPrincipalChanged(fn func(*Principal)) (unsubscribe func())
	Token(ctx context.Context, principal *Principal) (string, error)
	SignOut(ctx context.Context) error
}

// Backend is the backend auth API consumed by the core. Implementations keep
// the HTTP-only session cookie between calls.
//
// CheckAuth with an empty token verifies the cookie session only.
type Backend interface {
	Login(ctx context.Context, email, password string) (BackendResponse, error)
	CheckAuth(ctx context.Context, token string) (*SessionUser, error)
	FirebaseLogin(ctx context.Context, token, email, uid string) (BackendResponse, error)
	Sync(ctx context.Context, assertion IdentityAssertion) (BackendResponse, error)
	Logout(ctx context.Context) error
}

// NavigateOptions mirrors the router's navigate options.
type NavigateOptions struct {
	Replace bool
	State   NavigateState
}

// NavigateState carries the return target for login redirects.
type NavigateState struct {
	From string
}

// Router is the routing layer. The core issues redirects through it and never
// the other way round.
type Router interface {
	CurrentPath() string
	Navigate(path string, opts NavigateOptions)
}

// Store is the shared application state the gate and login flows write to.
type Store interface {
	SetUser(user *SessionUser)
	SetIdentityPrincipal(principal *Principal)
}

func cloneUser(u *SessionUser) *SessionUser {
	if u == nil {
		return nil
	}
	out := *u
	if u.EmailVerified != nil {
		v := *u.EmailVerified
		out.EmailVerified = &v
	}
	return &out
}

func clonePrincipal(p *Principal) *Principal {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
