package storeauth

import (
	"context"

	"github.com/brandmart/storeauth/internal/flows"
	"go.uber.org/zap"
)

// Logout signs the user out. The logout flag is raised for the whole
// sequence so the gate settles the resulting "signed out" notification
// without asking the backend, whose cookie may still be valid until the
// backend logout completes. Local state is cleared and the router sent to the
// login page even when a remote step fails; the first remote failure is
// returned as an *AuthError.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.gate == nil {
		return ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := c.log.Named("logout")

	res := flows.RunLogout(ctx, flows.LogoutDeps{
		SetLoggingOut: c.flag.Set,
		SignOut:       c.idp.SignOut,
		BackendLogout: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, c.config.Backend.Timeout)
			defer cancel()
			return c.backend.Logout(ctx)
		},
		ClearState: func() {
			c.store.SetUser(nil)
			c.store.SetIdentityPrincipal(nil)
		},
		Navigate: func() {
			c.router.Navigate(c.config.Routes.Login, NavigateOptions{Replace: true})
		},
	})

	if res.Failed() {
		c.tel.inc(MetricLogoutFailure)
		fields := []zap.Field{}
		if res.SignOutErr != nil {
			fields = append(fields, zap.NamedError("sign_out", res.SignOutErr))
		}
		if res.BackendErr != nil {
			fields = append(fields, zap.NamedError("backend", res.BackendErr))
		}
		log.Warn("logout step failed", fields...)
	}
	c.tel.inc(MetricLogout)
	c.tel.emit(ctx, AuditEvent{
		EventType: auditEventLogout,
		Success:   !res.Failed(),
	})

	switch {
	case res.SignOutErr != nil:
		return AsAuthError(res.SignOutErr)
	case res.BackendErr != nil:
		return backendError(res.BackendErr)
	}
	return nil
}
