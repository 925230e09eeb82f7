package storeauth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitPrimarySuccessSkipsIdentityProvider(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	var loggedIn atomic.Bool
	rig.backend.login = func(_ context.Context, email, pw string) (BackendResponse, error) {
		if email != "admin@example.com" || pw != "secret" {
			t.Errorf("unexpected credentials %q/%q", email, pw)
		}
		loggedIn.Store(true)
		return BackendResponse{Success: true, User: userFor("admin", RoleAdmin)}, nil
	}
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token != "" {
			t.Errorf("primary login must be verified by cookie, got token %q", token)
		}
		if !loggedIn.Load() {
			return nil, errNoSession
		}
		return userFor("admin", RoleAdmin), nil
	}
	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "initial check", func() bool { return rig.client.Status().Checked })
	if rig.client.Status().Authenticated {
		t.Fatalf("no session before login")
	}

	res, err := rig.client.Login().Submit(context.Background(), "  Admin@Example.com ", "secret")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Path != LoginPathPrimary || res.Degraded || res.User.Role != RoleAdmin || res.Home != "/admin/dashboard" {
		t.Fatalf("unexpected result %+v", res)
	}
	if rig.idp.passwordHits != 0 || rig.backend.count("firebase-login") != 0 {
		t.Fatalf("identity-provider fallback must not run after primary success")
	}
	if u := rig.store.currentUser(); u == nil || u.ID != "admin" {
		t.Fatalf("store user not set: %+v", u)
	}
	if rig.router.CurrentPath() != "/admin/dashboard" {
		t.Fatalf("expected admin home, got %q", rig.router.CurrentPath())
	}
	if rig.client.MetricsSnapshot().Counters[MetricLoginPrimarySuccess] != 1 {
		t.Fatalf("expected primary success metric")
	}
	st := rig.client.Status()
	if !st.Authenticated || st.User == nil || st.User.Role != RoleAdmin {
		t.Fatalf("gate must be authenticated after primary login, got %+v", st)
	}
	if d := rig.client.Gate().Render("/admin/dashboard"); d.Action != RouteRender {
		t.Fatalf("expected admin home to render, got %+v", d)
	}
}

func TestSubmitFallbackDegradedUserWhenBackendOmitsUser(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	release := make(chan struct{})
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token == "tok-fb1" {
			<-release
			return userFor("fb1", RoleAdmin), nil
		}
		return nil, errNoSession
	}
	rig.backend.login = func(context.Context, string, string) (BackendResponse, error) {
		return BackendResponse{}, NewAuthError(KindInvalidCredential, "", nil)
	}
	rig.idp.password = func(_ context.Context, email, _ string) (*Principal, error) {
		return &Principal{UID: "fb1", Email: email, EmailVerified: true}, nil
	}
	rig.backend.firebaseLogin = func(_ context.Context, token, email, uid string) (BackendResponse, error) {
		if token != "tok-fb1" || uid != "fb1" || email != "jane@example.com" {
			t.Errorf("unexpected firebase-login args %q %q %q", token, email, uid)
		}
		return BackendResponse{Success: true}, nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "initial check", func() bool { return rig.client.Status().Checked })

	res, err := rig.client.Login().Submit(context.Background(), "jane@example.com", "pw")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Path != LoginPathIdentityProvider || !res.Degraded {
		t.Fatalf("expected degraded identity-provider login, got %+v", res)
	}
	if res.User.Role != RoleUser || res.User.ID != "fb1" || res.Home != "/shop/home" {
		t.Fatalf("degraded user must carry role user, got %+v", res.User)
	}
	if rig.idp.subscribers() != 1 {
		t.Fatalf("gate must still be subscribed")
	}

	// The gate reconciles the degraded user with the backend's answer.
	close(release)
	eventually(t, "reconciled admin", func() bool {
		st := rig.client.Status()
		return st.User != nil && st.User.ID == "fb1" && st.User.Role == RoleAdmin
	})
}

func TestSubmitBlankInputIsMalformedWithoutNetwork(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	for _, tc := range [][2]string{{"", "pw"}, {"a@b.co", ""}, {"not-an-email", "pw"}} {
		_, err := rig.client.Login().Submit(context.Background(), tc[0], tc[1])
		if !errors.Is(err, ErrMalformedInput) || !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("%v: expected malformed input, got %v", tc, err)
		}
	}
	if rig.backend.count("login") != 0 || rig.idp.passwordHits != 0 {
		t.Fatalf("no network call expected for malformed input")
	}
}

func TestSubmitClassifiesProviderErrors(t *testing.T) {
	cases := map[string]error{
		"auth/user-not-found":     ErrNoAccount,
		"auth/wrong-password":     ErrWrongPassword,
		"auth/invalid-credential": ErrInvalidCredential,
		"auth/invalid-email":      ErrMalformedInput,
		"auth/user-disabled":      ErrAccountDisabled,
		"auth/too-many-requests":  ErrRateLimited,
		"auth/something-else":     ErrUnknown,
	}
	for code, want := range cases {
		rig := newTestRig(t, testConfig(), nil, "/auth/login")
		rig.idp.password = func(context.Context, string, string) (*Principal, error) {
			return nil, &ProviderError{Code: code}
		}
		_, err := rig.client.Login().Submit(context.Background(), "a@b.co", "pw")
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", code, want, err)
		}
		var ae *AuthError
		if !errors.As(err, &ae) {
			t.Fatalf("%s: expected *AuthError, got %T", code, err)
		}
		if rig.client.MetricsSnapshot().Counters[MetricLoginFailure] != 1 {
			t.Fatalf("%s: expected failure metric", code)
		}
	}
}

func TestSubmitWithoutFallbackReportsPrimaryError(t *testing.T) {
	cfg := testConfig()
	cfg.Login.IdentityProviderFallback = false
	rig := newTestRig(t, cfg, nil, "/auth/login")
	rig.backend.login = func(context.Context, string, string) (BackendResponse, error) {
		return BackendResponse{}, NewAuthError(KindAccountDisabled, "", nil)
	}

	_, err := rig.client.Login().Submit(context.Background(), "a@b.co", "pw")
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected account disabled, got %v", err)
	}
	if rig.idp.passwordHits != 0 {
		t.Fatalf("fallback disabled")
	}
}

func TestSubmitNavigatesAfterStoreUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.Login.NavigateDelay = 10 * time.Millisecond
	rig := newTestRig(t, cfg, nil, "/auth/login")
	rig.backend.login = func(context.Context, string, string) (BackendResponse, error) {
		return BackendResponse{Success: true, User: userFor("u", RoleUser)}, nil
	}

	if _, err := rig.client.Login().Submit(context.Background(), "u@example.com", "pw"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if rig.store.currentUser() == nil {
		t.Fatalf("store must be updated before Submit returns")
	}
	if len(rig.router.navigations()) != 0 {
		t.Fatalf("navigation must be deferred")
	}
	rig.client.Login().waitNavigation()
	if rig.router.CurrentPath() != "/shop/home" {
		t.Fatalf("expected user home, got %q", rig.router.CurrentPath())
	}
}

func TestCloseCancelsPendingNavigation(t *testing.T) {
	cfg := testConfig()
	cfg.Login.NavigateDelay = time.Second
	rig := newTestRig(t, cfg, nil, "/auth/login")
	rig.backend.login = func(context.Context, string, string) (BackendResponse, error) {
		return BackendResponse{Success: true, User: userFor("u", RoleUser)}, nil
	}
	if _, err := rig.client.Login().Submit(context.Background(), "u@example.com", "pw"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	rig.client.Close()
	rig.client.Login().waitNavigation()
	if len(rig.router.navigations()) != 0 {
		t.Fatalf("pending navigation must be cancelled")
	}
}

func TestSubmitInteractiveSuccess(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	rig.idp.interactive = func(context.Context) (*Principal, error) {
		return &Principal{UID: "g1", Email: "g1@gmail.com", DisplayName: "Gee"}, nil
	}
	rig.backend.sync = func(_ context.Context, a IdentityAssertion) (BackendResponse, error) {
		if a.Token != "tok-g1" || a.UID != "g1" {
			t.Errorf("unexpected assertion %+v", a)
		}
		return BackendResponse{Success: true, User: userFor("acct-1", RoleUser)}, nil
	}
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token != "tok-g1" {
			return nil, errNoSession
		}
		return userFor("acct-1", RoleUser), nil
	}
	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	res, err := rig.client.Login().SubmitInteractive(context.Background())
	if err != nil {
		t.Fatalf("SubmitInteractive failed: %v", err)
	}
	if res.Path != LoginPathInteractive || res.Degraded || res.User.ID != "acct-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	st := rig.client.Status()
	if !st.Authenticated || st.User == nil || st.User.ID != "acct-1" {
		t.Fatalf("gate must be authenticated after interactive login, got %+v", st)
	}
	if d := rig.client.Gate().Render(res.Home); d.Action != RouteRender {
		t.Fatalf("expected %s to render, got %+v", res.Home, d)
	}
}

func TestSubmitPrimaryUnverifiedSessionKeepsGateSignedOut(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	rig.backend.login = func(context.Context, string, string) (BackendResponse, error) {
		return BackendResponse{Success: true, User: userFor("u", RoleUser)}, nil
	}

	if _, err := rig.client.Login().Submit(context.Background(), "u@example.com", "pw"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if st := rig.client.Status(); !st.Checked || st.Authenticated {
		t.Fatalf("gate must fail closed when the cookie does not verify, got %+v", st)
	}
	if rig.backend.count("check-auth") != 1 {
		t.Fatalf("expected one refresh check, got %d", rig.backend.count("check-auth"))
	}
}

func TestSubmitInteractiveCancelledIsNotAFailure(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	rig.idp.interactive = func(context.Context) (*Principal, error) {
		return nil, &ProviderError{Code: "auth/popup-closed-by-user"}
	}

	_, err := rig.client.Login().SubmitInteractive(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	snap := rig.client.MetricsSnapshot()
	if snap.Counters[MetricLoginFailure] != 0 || snap.Counters[MetricLoginCancelled] != 1 {
		t.Fatalf("cancellation must not count as failure: %+v", snap.Counters)
	}
	if rig.backend.count("firebase-sync") != 0 {
		t.Fatalf("sync must not run after cancellation")
	}
}

func TestSubmitInteractiveDegradesOnSyncOutage(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	rig.idp.interactive = func(context.Context) (*Principal, error) {
		return &Principal{UID: "g1", Email: "g1@gmail.com"}, nil
	}
	rig.backend.sync = func(context.Context, IdentityAssertion) (BackendResponse, error) {
		return BackendResponse{}, NewAuthError(KindBackendUnavailable, "", errBoom)
	}

	res, err := rig.client.Login().SubmitInteractive(context.Background())
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if !res.Degraded || res.User.Role != RoleUser || res.User.UserName != "g1" {
		t.Fatalf("unexpected degraded result %+v", res)
	}
}

func TestSubmitInteractiveRejectedSyncFails(t *testing.T) {
	cfg := testConfig()
	cfg.Login.DegradeOnSyncFailure = false
	rig := newTestRig(t, cfg, nil, "/auth/login")
	rig.idp.interactive = func(context.Context) (*Principal, error) {
		return &Principal{UID: "g1", Email: "g1@gmail.com"}, nil
	}
	rig.backend.sync = func(context.Context, IdentityAssertion) (BackendResponse, error) {
		return BackendResponse{}, NewAuthError(KindBackendUnavailable, "", errBoom)
	}

	if _, err := rig.client.Login().SubmitInteractive(context.Background()); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestDegradedLoginPrefersVerifiedGateUser(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token == "tok-fb1" {
			return userFor("fb1", RoleAdmin), nil
		}
		return nil, errNoSession
	}
	rig.backend.login = func(context.Context, string, string) (BackendResponse, error) {
		return BackendResponse{Success: false, Message: "use identity provider"}, nil
	}
	verified := make(chan struct{})
	rig.idp.password = func(context.Context, string, string) (*Principal, error) {
		return &Principal{UID: "fb1", Email: "jane@example.com"}, nil
	}
	rig.backend.firebaseLogin = func(context.Context, string, string, string) (BackendResponse, error) {
		<-verified
		return BackendResponse{Success: true}, nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	go func() {
		defer close(verified)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if st := rig.client.Status(); st.User != nil && st.User.Role == RoleAdmin {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	res, err := rig.client.Login().Submit(context.Background(), "jane@example.com", "pw")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Degraded || res.User.Role != RoleAdmin || res.Home != "/admin/dashboard" {
		t.Fatalf("expected gate-verified admin, got %+v", res)
	}
}
