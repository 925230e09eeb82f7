package storeauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/brandmart/storeauth/internal/flows"
	"go.uber.org/zap"
)

// LoginPath names the step that completed a login.
type LoginPath = flows.LoginPath

const (
	// LoginPathPrimary is the backend password endpoint.
	LoginPathPrimary = flows.PathPrimary
	// LoginPathIdentityProvider is the identity-provider password fallback.
	LoginPathIdentityProvider = flows.PathIdentityProvider
	// LoginPathInteractive is the popup sign-in followed by a backend sync.
	LoginPathInteractive = flows.PathInteractive
)

// LoginResult describes a completed login. Degraded is set when User was
// built locally because the backend did not return the account; the gate
// replaces it with the verified user once its own check settles.
type LoginResult struct {
	User     SessionUser
	Path     LoginPath
	Degraded bool
	Home     string
}

// LoginDeps are the collaborators a [LoginOrchestrator] needs.
type LoginDeps struct {
	IdentityProvider IdentityProvider
	Backend          Backend
	Router           Router
	Store            Store
	Logger           *zap.Logger
	Metrics          *Metrics

	// Verified, when set, reports the gate's current status. A degraded login
	// uses the gate's user instead when the gate has already verified the same
	// account.
	Verified func() AuthStatus

	// Refresh, when set, re-verifies the session before navigation so the
	// gate reflects a login the identity provider never announced.
	Refresh func(ctx context.Context) (AuthStatus, error)
}

// LoginOrchestrator runs the password cascade and the interactive sign-in,
// then finalizes the session: the store is updated first, navigation to the
// role home follows after a short delay.
type LoginOrchestrator struct {
	deps        LoginDeps
	credentials *CredentialProvider
	sync        *BackendSync
	routes      RoutesConfig
	cfg         LoginConfig
	timeout     time.Duration
	log         *zap.Logger
	tel         *telemetry

	navMu     sync.Mutex
	navTimers map[*time.Timer]struct{}
	navWG     sync.WaitGroup
}

// NewLoginOrchestrator builds an orchestrator from cfg and deps.
func NewLoginOrchestrator(cfg Config, deps LoginDeps) (*LoginOrchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newLoginOrchestrator(cfg, deps, &telemetry{metrics: deps.Metrics}), nil
}

func newLoginOrchestrator(cfg Config, deps LoginDeps, tel *telemetry) *LoginOrchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginOrchestrator{
		deps:        deps,
		credentials: NewCredentialProvider(deps.IdentityProvider, logger),
		sync:        NewBackendSync(deps.Backend, cfg.Backend.Timeout, logger),
		routes:      cfg.Routes,
		cfg:         cfg.Login,
		timeout:     cfg.Backend.Timeout,
		log:         logger.Named("login"),
		tel:         tel,
		navTimers:   make(map[*time.Timer]struct{}),
	}
}

// Submit logs in with an email and password. The backend password endpoint
// is tried first; when it does not produce a user, the identity provider's
// password sign-in is tried and its token exchanged for a backend session.
// Errors are *AuthError; blank or malformed input fails with
// [KindMalformedInput] before any network call.
func (o *LoginOrchestrator) Submit(ctx context.Context, email, password string) (LoginResult, error) {
	if o == nil || o.deps.Backend == nil {
		return LoginResult{}, ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		user     *SessionUser
		degraded bool
	)

	deps := flows.PasswordLoginDeps{
		Validate: flows.ValidateCredentials,
		Primary: func(ctx context.Context, email, password string) (bool, error) {
			u, err := o.primaryLogin(ctx, email, password)
			if err != nil || u == nil {
				return false, err
			}
			user = u
			return true, nil
		},
	}
	if o.cfg.IdentityProviderFallback && o.deps.IdentityProvider != nil {
		deps.Secondary = func(ctx context.Context, email, password string) error {
			u, d, err := o.identityProviderLogin(ctx, email, password)
			if err != nil {
				return err
			}
			user, degraded = u, d
			return nil
		}
	}

	res := flows.RunPasswordLogin(ctx, email, password, deps)
	if res.Err != nil {
		if res.PrimaryErr != nil {
			o.log.Debug("primary login did not produce a user", zap.String("kind", KindOf(res.PrimaryErr).String()))
		}
		return LoginResult{}, o.fail(ctx, loginPathOnFailure(res), passwordLoginError(res.Err))
	}
	return o.finalize(ctx, user, res.Path, degraded), nil
}

// SubmitInteractive runs the identity provider's interactive flow and syncs
// the resulting assertion with the backend. Cancellation returns an error
// matching [ErrCancelled] and is not counted as a failure.
func (o *LoginOrchestrator) SubmitInteractive(ctx context.Context) (LoginResult, error) {
	if o == nil || o.deps.Backend == nil || o.deps.IdentityProvider == nil {
		return LoginResult{}, ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		cred   Credential
		synced SyncResult
	)
	res := flows.RunInteractiveLogin(ctx, flows.InteractiveLoginDeps{
		SignIn: func(ctx context.Context) error {
			c, err := o.credentials.SignIn(ctx)
			cred = c
			return err
		},
		Sync: func(ctx context.Context) error {
			r, err := o.sync.Sync(ctx, cred.Assertion)
			synced = r
			return err
		},
		Degrade: func(err error) bool {
			if !o.cfg.DegradeOnSyncFailure {
				return false
			}
			switch KindOf(err) {
			case KindNetwork, KindBackendUnavailable:
				return true
			}
			return false
		},
	})

	if res.Err != nil {
		return LoginResult{}, o.fail(ctx, LoginPathInteractive, AsAuthError(res.Err))
	}

	if res.Degraded {
		o.log.Warn("backend sync failed, continuing with a degraded user", zap.String("kind", KindOf(res.SyncErr).String()))
		a := cred.Assertion
		return o.finalize(ctx, degradedUser(a.UID, a.Email, a.DisplayName, a.EmailVerified), LoginPathInteractive, true), nil
	}
	user := synced.User
	return o.finalize(ctx, &user, LoginPathInteractive, synced.Status == SyncDegraded), nil
}

func (o *LoginOrchestrator) primaryLogin(ctx context.Context, email, password string) (*SessionUser, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.deps.Backend.Login(ctx, flows.NormalizeEmail(email), password)
	if err != nil {
		return nil, backendError(err)
	}
	if !resp.Success {
		return nil, NewAuthError(KindInvalidCredential, resp.Message, nil)
	}
	if resp.User == nil {
		return nil, nil
	}
	u := cloneUser(resp.User)
	u.Role = ParseRole(string(u.Role))
	return u, nil
}

func (o *LoginOrchestrator) identityProviderLogin(ctx context.Context, email, password string) (*SessionUser, bool, error) {
	principal, err := o.deps.IdentityProvider.SignInWithPassword(ctx, flows.NormalizeEmail(email), password)
	if err != nil {
		return nil, false, err
	}
	if principal == nil {
		return nil, false, NewAuthError(KindUnknown, "identity provider returned no principal", nil)
	}
	token, err := o.deps.IdentityProvider.Token(ctx, principal)
	if err != nil {
		return nil, false, err
	}

	bctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	accountEmail := principal.Email
	if accountEmail == "" {
		accountEmail = flows.NormalizeEmail(email)
	}
	resp, err := o.deps.Backend.FirebaseLogin(bctx, token, accountEmail, principal.UID)
	if err != nil {
		return nil, false, backendError(err)
	}
	if !resp.Success {
		return nil, false, NewAuthError(KindBackendUnavailable, resp.Message, nil)
	}
	if resp.User == nil {
		return degradedUser(principal.UID, accountEmail, principal.DisplayName, principal.EmailVerified), true, nil
	}
	u := cloneUser(resp.User)
	u.Role = ParseRole(string(u.Role))
	return u, false, nil
}

func (o *LoginOrchestrator) finalize(ctx context.Context, user *SessionUser, path LoginPath, degraded bool) LoginResult {
	if degraded && o.deps.Verified != nil {
		if st := o.deps.Verified(); st.Authenticated && sameAccount(st.User, user) {
			user, degraded = cloneUser(st.User), false
		}
	}
	if !degraded && o.deps.Refresh != nil {
		st, err := o.deps.Refresh(ctx)
		switch {
		case err != nil:
			o.log.Warn("session refresh after login failed", zap.String("path", string(path)), zap.Error(err))
		case st.Authenticated && sameAccount(st.User, user):
			user = cloneUser(st.User)
		default:
			o.log.Warn("gate did not verify the new session", zap.String("path", string(path)))
		}
	}
	if o.deps.Store != nil {
		o.deps.Store.SetUser(cloneUser(user))
	}
	home := o.routes.Home(user)
	o.scheduleNavigate(home)

	switch path {
	case LoginPathPrimary:
		o.tel.inc(MetricLoginPrimarySuccess)
	case LoginPathIdentityProvider:
		o.tel.inc(MetricLoginIdentityProviderSuccess)
	case LoginPathInteractive:
		o.tel.inc(MetricLoginInteractiveSuccess)
	}
	if degraded {
		o.tel.inc(MetricLoginDegraded)
	}
	o.tel.emit(ctx, AuditEvent{
		EventType: auditEventLoginSuccess,
		UserID:    user.ID,
		Role:      string(user.Role),
		Path:      string(path),
		Success:   true,
		Metadata:  map[string]string{"degraded": boolString(degraded)},
	})
	o.log.Info("login succeeded", zap.String("path", string(path)), zap.String("role", string(user.Role)), zap.Bool("degraded", degraded))

	return LoginResult{User: *cloneUser(user), Path: path, Degraded: degraded, Home: home}
}

// sameAccount matches a locally built user against a verified one. Local
// users carry the provider uid, verified ones the backend id, so a verified
// email match also counts.
func sameAccount(verified, local *SessionUser) bool {
	if verified == nil || local == nil {
		return false
	}
	if verified.ID == local.ID {
		return true
	}
	return verified.Email != "" && strings.EqualFold(verified.Email, local.Email)
}

func (o *LoginOrchestrator) fail(ctx context.Context, path LoginPath, err *AuthError) *AuthError {
	if err.Kind == KindCancelled {
		o.tel.inc(MetricLoginCancelled)
		o.log.Debug("login cancelled", zap.String("path", string(path)))
		return err
	}
	o.tel.inc(MetricLoginFailure)
	o.tel.emit(ctx, AuditEvent{
		EventType: auditEventLoginFailure,
		Path:      string(path),
		Success:   false,
		Error:     err.Kind.String(),
	})
	o.log.Info("login failed", zap.String("path", string(path)), zap.String("kind", err.Kind.String()))
	return err
}

// scheduleNavigate navigates to path after the configured delay so store
// observers see the new user before the route changes. It never blocks.
func (o *LoginOrchestrator) scheduleNavigate(path string) {
	if o.deps.Router == nil {
		return
	}
	navigate := func() {
		o.deps.Router.Navigate(path, NavigateOptions{Replace: true})
	}
	if o.cfg.NavigateDelay <= 0 {
		navigate()
		return
	}

	o.navWG.Add(1)
	var timer *time.Timer
	o.navMu.Lock()
	timer = time.AfterFunc(o.cfg.NavigateDelay, func() {
		defer o.navWG.Done()
		o.navMu.Lock()
		delete(o.navTimers, timer)
		o.navMu.Unlock()
		navigate()
	})
	o.navTimers[timer] = struct{}{}
	o.navMu.Unlock()
}

// Close cancels navigations that have not fired yet.
func (o *LoginOrchestrator) Close() {
	if o == nil {
		return
	}
	o.navMu.Lock()
	for t := range o.navTimers {
		if t.Stop() {
			o.navWG.Done()
		}
		delete(o.navTimers, t)
	}
	o.navMu.Unlock()
}

// waitNavigation blocks until every scheduled navigation has fired or been
// cancelled.
func (o *LoginOrchestrator) waitNavigation() {
	o.navWG.Wait()
}

func loginPathOnFailure(res flows.PasswordLoginResult) LoginPath {
	if res.PrimaryErr != nil {
		return LoginPathIdentityProvider
	}
	return LoginPathPrimary
}

// passwordLoginError classifies the failure of the last step of the password
// cascade.
func passwordLoginError(err error) *AuthError {
	switch {
	case errors.Is(err, flows.ErrBlankEmail), errors.Is(err, flows.ErrBlankPassword), errors.Is(err, flows.ErrInvalidEmail):
		return NewAuthError(KindMalformedInput, err.Error(), err)
	case errors.Is(err, flows.ErrNoUser):
		return NewAuthError(KindBackendUnavailable, err.Error(), err)
	}
	return AsAuthError(err)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
