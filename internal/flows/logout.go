package flows

import "context"

// LogoutDeps captures the logout sequence.
type LogoutDeps struct {
	SetLoggingOut func(bool)
	SignOut       func(ctx context.Context) error
	BackendLogout func(ctx context.Context) error
	ClearState    func()
	Navigate      func()
}

// LogoutResult carries the failures of the two remote steps. Local state is
// cleared regardless.
type LogoutResult struct {
	SignOutErr error
	BackendErr error
}

// Failed reports whether either remote step failed.
func (r LogoutResult) Failed() bool {
	return r.SignOutErr != nil || r.BackendErr != nil
}

// RunLogout raises the logout flag for the whole sequence, signs out of the
// identity provider, invalidates the backend cookie, clears local state and
// navigates to the login page. The flag is lowered on every path.
func RunLogout(ctx context.Context, deps LogoutDeps) LogoutResult {
	deps.SetLoggingOut(true)
	defer deps.SetLoggingOut(false)

	var res LogoutResult
	res.SignOutErr = deps.SignOut(ctx)
	if deps.BackendLogout != nil {
		res.BackendErr = deps.BackendLogout(ctx)
	}
	if deps.ClearState != nil {
		deps.ClearState()
	}
	if deps.Navigate != nil {
		deps.Navigate()
	}
	return res
}
