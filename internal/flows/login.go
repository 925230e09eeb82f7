package flows

import (
	"context"
	"errors"
)

// LoginPath names the step that completed a login.
type LoginPath string

const (
	PathPrimary          LoginPath = "primary"
	PathIdentityProvider LoginPath = "identity_provider"
	PathInteractive      LoginPath = "interactive"
)

// ErrNoUser is the primary step's failure when the backend answered success
// without returning a user.
var ErrNoUser = errors.New("backend login returned no user")

// PasswordLoginDeps captures the password cascade.
type PasswordLoginDeps struct {
	// Validate rejects malformed input. It runs before any other step.
	Validate func(email, password string) error
	// Primary calls the backend password endpoint. It reports true when the
	// backend returned a user, which finishes the login.
	Primary func(ctx context.Context, email, password string) (bool, error)
	// Secondary signs in with the identity provider and exchanges the
	// provider token for a backend session. Nil disables the step.
	Secondary func(ctx context.Context, email, password string) error
}

// PasswordLoginResult reports which step finished the login. Err is the
// failure of the last step attempted; PrimaryErr is kept for logging.
type PasswordLoginResult struct {
	Path       LoginPath
	PrimaryErr error
	Err        error
}

// RunPasswordLogin runs the primary step, then the identity-provider step.
// The second step never runs once the first produced a user.
func RunPasswordLogin(ctx context.Context, email, password string, deps PasswordLoginDeps) PasswordLoginResult {
	if deps.Validate != nil {
		if err := deps.Validate(email, password); err != nil {
			return PasswordLoginResult{Err: err}
		}
	}

	ok, err := deps.Primary(ctx, email, password)
	if err == nil && ok {
		return PasswordLoginResult{Path: PathPrimary}
	}
	if err == nil {
		err = ErrNoUser
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return PasswordLoginResult{PrimaryErr: err, Err: ctxErr}
	}
	if deps.Secondary == nil {
		return PasswordLoginResult{PrimaryErr: err, Err: err}
	}

	if secErr := deps.Secondary(ctx, email, password); secErr != nil {
		return PasswordLoginResult{PrimaryErr: err, Err: secErr}
	}
	return PasswordLoginResult{Path: PathIdentityProvider, PrimaryErr: err}
}

// InteractiveLoginDeps captures the popup sign-in followed by the backend sync.
type InteractiveLoginDeps struct {
	SignIn func(ctx context.Context) error
	Sync   func(ctx context.Context) error
	// Degrade decides whether a sync failure may finish the login with a
	// locally built user. Nil never degrades.
	Degrade func(err error) bool
}

// InteractiveLoginResult reports the outcome of the interactive login.
type InteractiveLoginResult struct {
	Degraded bool
	SyncErr  error
	Err      error
}

// RunInteractiveLogin signs in, then syncs. A sign-in failure is final.
func RunInteractiveLogin(ctx context.Context, deps InteractiveLoginDeps) InteractiveLoginResult {
	if err := deps.SignIn(ctx); err != nil {
		return InteractiveLoginResult{Err: err}
	}
	if err := deps.Sync(ctx); err != nil {
		if deps.Degrade != nil && deps.Degrade(err) {
			return InteractiveLoginResult{Degraded: true, SyncErr: err}
		}
		return InteractiveLoginResult{SyncErr: err, Err: err}
	}
	return InteractiveLoginResult{}
}
