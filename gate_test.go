package storeauth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateStartsUncheckedAndRendersLoading(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/shop/home")
	gate := rig.client.Gate()

	if st := gate.Status(); st.Checked || st.Authenticated {
		t.Fatalf("expected unchecked status, got %+v", st)
	}
	if d := gate.Render("/shop/home"); d.Action != RouteLoading {
		t.Fatalf("expected loading before first check, got %+v", d)
	}
	if len(rig.router.navigations()) != 0 {
		t.Fatalf("no redirect may happen before the first check")
	}
}

func TestGateAuthenticatesWithBackendUser(t *testing.T) {
	cfg := testConfig()
	rig := newTestRig(t, cfg, &Principal{UID: "u1", Email: "u1@example.com"}, "/auth/login")
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token != "tok-u1" {
			return nil, errNoSession
		}
		return userFor("u1", RoleAdmin), nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "authenticated", func() bool { return rig.client.Status().Authenticated })

	st := rig.client.Status()
	if !st.Checked || st.User == nil || st.User.ID != "u1" || st.User.Role != RoleAdmin {
		t.Fatalf("unexpected status %+v", st)
	}
	if got := rig.client.Gate().State(); got != GateAuthenticated {
		t.Fatalf("expected authenticated state, got %v", got)
	}
	if p := rig.store.currentPrincipal(); p == nil || p.UID != "u1" {
		t.Fatalf("store principal not set: %+v", p)
	}
	if u := rig.store.currentUser(); u == nil || u.ID != "u1" {
		t.Fatalf("store user not set: %+v", u)
	}
	eventually(t, "redirect to admin home", func() bool { return rig.router.CurrentPath() == cfg.Routes.AdminHome })
}

func TestGateRoleComesFromBackendOnly(t *testing.T) {
	rig := newTestRig(t, testConfig(), &Principal{UID: "u1", Email: "boss@example.com", DisplayName: "admin"}, "/shop/home")
	rig.backend.checkAuth = func(context.Context, string) (*SessionUser, error) {
		return &SessionUser{ID: "u1", Email: "boss@example.com", Role: "superuser"}, nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "authenticated", func() bool { return rig.client.Status().Authenticated })
	if rig.client.Status().User.Role != RoleUser {
		t.Fatalf("unknown backend role must map to user, got %q", rig.client.Status().User.Role)
	}
}

func TestGateFailsClosedOnBackendError(t *testing.T) {
	cfg := testConfig()
	rig := newTestRig(t, cfg, &Principal{UID: "u1"}, "/shop/cart")
	rig.backend.checkAuth = func(context.Context, string) (*SessionUser, error) {
		return nil, NewAuthError(KindBackendUnavailable, "", errBoom)
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "checked", func() bool { return rig.client.Status().Checked })

	if rig.client.Status().Authenticated {
		t.Fatalf("backend failure must fail closed")
	}
	eventually(t, "login redirect", func() bool { return rig.router.CurrentPath() == cfg.Routes.Login })
	navs := rig.router.navigations()
	last := navs[len(navs)-1]
	if last.opts.State.From != "/shop/cart" || !last.opts.Replace {
		t.Fatalf("login redirect must preserve return target, got %+v", last)
	}
	if rig.client.MetricsSnapshot().Counters[MetricGateCheckFailure] != 1 {
		t.Fatalf("expected one check failure")
	}
}

func TestGateTimeoutIsFailClosed(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.Timeout = 20 * time.Millisecond
	rig := newTestRig(t, cfg, &Principal{UID: "u1"}, "/shop/home")
	rig.backend.checkAuth = func(ctx context.Context, _ string) (*SessionUser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "checked", func() bool { return rig.client.Status().Checked })
	if rig.client.Status().Authenticated {
		t.Fatalf("timed-out verification must not authenticate")
	}
}

func TestGateLastNotificationWins(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/shop/home")
	releaseA := make(chan struct{})
	startedA := make(chan struct{})
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		switch token {
		case "tok-a":
			close(startedA)
			<-releaseA
			return userFor("a", RoleAdmin), nil
		case "tok-b":
			return userFor("b", RoleUser), nil
		}
		return nil, errNoSession
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "initial check", func() bool { return rig.client.Status().Checked })

	rig.idp.emit(&Principal{UID: "a"})
	<-startedA
	rig.idp.emit(&Principal{UID: "b"})

	eventually(t, "user b", func() bool {
		st := rig.client.Status()
		return st.User != nil && st.User.ID == "b"
	})

	close(releaseA)
	eventually(t, "stale discard", func() bool {
		return rig.client.MetricsSnapshot().Counters[MetricGateStaleDiscarded] == 1
	})

	st := rig.client.Status()
	if st.User == nil || st.User.ID != "b" || st.User.Role != RoleUser {
		t.Fatalf("late result for a overwrote b: %+v", st)
	}
	if u := rig.store.currentUser(); u == nil || u.ID != "b" {
		t.Fatalf("store must hold b, got %+v", u)
	}
}

func TestGateCheckedNeverRevertsDuringRecheck(t *testing.T) {
	rig := newTestRig(t, testConfig(), &Principal{UID: "u1"}, "/shop/home")
	release := make(chan struct{})
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token == "tok-u2" {
			<-release
		}
		return userFor(token[4:], RoleUser), nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "authenticated", func() bool { return rig.client.Status().Authenticated })

	rig.idp.emit(&Principal{UID: "u2"})
	eventually(t, "checking", func() bool { return rig.client.Gate().State() == GateChecking })

	st := rig.client.Status()
	if !st.Checked || st.User == nil || st.User.ID != "u1" {
		t.Fatalf("status must keep previous value while checking, got %+v", st)
	}
	if d := rig.client.Gate().Render("/shop/home"); d.Action != RouteRender {
		t.Fatalf("re-check must not show the loading indicator, got %+v", d)
	}
	close(release)
	eventually(t, "u2", func() bool {
		u := rig.client.Status().User
		return u != nil && u.ID == "u2"
	})
}

func TestGateSuppressesBackendCheckDuringLogout(t *testing.T) {
	cfg := testConfig()
	rig := newTestRig(t, cfg, &Principal{UID: "u1"}, "/shop/home")
	// The cookie stays valid until the backend logout lands.
	rig.backend.checkAuth = func(context.Context, string) (*SessionUser, error) {
		return userFor("u1", RoleUser), nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "authenticated", func() bool { return rig.client.Status().Authenticated })
	checksBefore := rig.backend.count("check-auth")

	if err := rig.client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	st := rig.client.Status()
	if st.Authenticated || st.User != nil || !st.Checked {
		t.Fatalf("expected unauthenticated after logout, got %+v", st)
	}
	if got := rig.backend.count("check-auth"); got != checksBefore {
		t.Fatalf("signed-out notification during logout must not call the backend (%d -> %d)", checksBefore, got)
	}
	if rig.client.MetricsSnapshot().Counters[MetricGateSuppressed] != 1 {
		t.Fatalf("expected one suppressed verification")
	}
	if rig.client.Flag().IsLoggingOut() {
		t.Fatalf("flag must be cleared after logout")
	}
	if rig.router.CurrentPath() != cfg.Routes.Login {
		t.Fatalf("expected login page, got %q", rig.router.CurrentPath())
	}
}

func TestGateSignOutElsewhereChecksCookie(t *testing.T) {
	rig := newTestRig(t, testConfig(), &Principal{UID: "u1"}, "/shop/home")
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token == "" {
			return nil, errNoSession
		}
		return userFor("u1", RoleUser), nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "authenticated", func() bool { return rig.client.Status().Authenticated })

	rig.idp.emit(nil)
	eventually(t, "unauthenticated", func() bool { return !rig.client.Status().Authenticated })

	tokens := rig.backend.tokens()
	if tokens[len(tokens)-1] != "" {
		t.Fatalf("signed-out notification outside logout must check the cookie session, got %v", tokens)
	}
}

func TestGateCookieSessionWithoutPrincipal(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token != "" {
			t.Errorf("expected cookie-only check, got token %q", token)
		}
		return userFor("pw-user", RoleUser), nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "authenticated", func() bool { return rig.client.Status().Authenticated })
	eventually(t, "user home", func() bool { return rig.router.CurrentPath() == "/shop/home" })
}

func TestGateWithoutCookieFallbackSkipsBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.CookieFallback = false
	rig := newTestRig(t, cfg, nil, "/shop/home")

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := rig.client.Status(); !st.Checked || st.Authenticated {
		t.Fatalf("expected settled unauthenticated, got %+v", st)
	}
	if rig.backend.count("check-auth") != 0 {
		t.Fatalf("backend must not be called")
	}
}

func TestGateSingleSubscriptionAndRelease(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	gate := rig.client.Gate()

	if err := gate.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := gate.Start(context.Background()); !errors.Is(err, ErrGateStarted) {
		t.Fatalf("expected ErrGateStarted, got %v", err)
	}
	if n := rig.idp.subscribers(); n != 1 {
		t.Fatalf("expected exactly one subscription, got %d", n)
	}

	gate.Close()
	gate.Close()
	if n := rig.idp.subscribers(); n != 0 {
		t.Fatalf("expected subscription released, got %d", n)
	}
	if err := gate.Start(context.Background()); !errors.Is(err, ErrGateClosed) {
		t.Fatalf("expected ErrGateClosed, got %v", err)
	}
}

func TestGateContextCancelReleasesSubscription(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	ctx, cancel := context.WithCancel(context.Background())
	if err := rig.client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()
	eventually(t, "unsubscribe", func() bool { return rig.idp.subscribers() == 0 })
}

func TestGateWatchDeliversSettledStatus(t *testing.T) {
	rig := newTestRig(t, testConfig(), &Principal{UID: "u1"}, "/shop/home")
	rig.backend.checkAuth = func(context.Context, string) (*SessionUser, error) {
		return userFor("u1", RoleUser), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := rig.client.Gate().Watch(ctx)

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case st := <-updates:
		if !st.Checked || !st.Authenticated || st.User.ID != "u1" {
			t.Fatalf("unexpected update %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no status delivered")
	}

	cancel()
	eventually(t, "watch closed", func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	})
}

func TestGateStateString(t *testing.T) {
	for state, want := range map[GateState]string{
		GateUnchecked:       "unchecked",
		GateChecking:        "checking_backend",
		GateAuthenticated:   "authenticated",
		GateUnauthenticated: "unauthenticated",
		GateState(42):       "invalid",
	} {
		if got := state.String(); got != want {
			t.Fatalf("%d: got %q want %q", state, got, want)
		}
	}
}

func TestGateRefreshSupersedesInflightCheck(t *testing.T) {
	rig := newTestRig(t, testConfig(), &Principal{UID: "u1"}, "/shop/home")
	release := make(chan struct{})
	var calls atomic.Int32
	rig.backend.checkAuth = func(_ context.Context, token string) (*SessionUser, error) {
		if token != "tok-u1" {
			t.Errorf("refresh must use the current principal's token, got %q", token)
		}
		if calls.Add(1) == 1 {
			<-release
			return userFor("u1", RoleUser), nil
		}
		return userFor("u1", RoleAdmin), nil
	}

	if err := rig.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	eventually(t, "first check in flight", func() bool { return calls.Load() == 1 })

	st, err := rig.client.Gate().Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !st.Authenticated || st.User.Role != RoleAdmin {
		t.Fatalf("unexpected refreshed status %+v", st)
	}
	if len(rig.router.navigations()) != 0 {
		t.Fatalf("refresh must not redirect")
	}

	close(release)
	eventually(t, "stale check discarded", func() bool {
		return rig.client.MetricsSnapshot().Counters[MetricGateStaleDiscarded] == 1
	})
	if st := rig.client.Status(); st.User == nil || st.User.Role != RoleAdmin {
		t.Fatalf("stale check overwrote refresh: %+v", st)
	}
}

func TestGateRefreshAfterClose(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	rig.client.Close()
	if _, err := rig.client.Gate().Refresh(context.Background()); !errors.Is(err, ErrGateClosed) {
		t.Fatalf("expected ErrGateClosed, got %v", err)
	}
}

func TestGateWatchNilContextEndsWithGate(t *testing.T) {
	rig := newTestRig(t, testConfig(), nil, "/auth/login")
	updates := rig.client.Gate().Watch(nil)
	rig.client.Close()
	eventually(t, "watch closed", func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	})
}
