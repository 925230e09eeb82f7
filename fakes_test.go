package storeauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeIDP struct {
	mu      sync.Mutex
	current *Principal
	subs    map[int]func(*Principal)
	nextSub int

	tokenErr     error
	interactive  func(ctx context.Context) (*Principal, error)
	password     func(ctx context.Context, email, pw string) (*Principal, error)
	signOutErr   error
	signOutCalls int
	passwordHits int
}

func newFakeIDP(current *Principal) *fakeIDP {
	return &fakeIDP{current: current, subs: map[int]func(*Principal){}}
}

func (f *fakeIDP) SignInInteractive(ctx context.Context) (*Principal, error) {
	if f.interactive == nil {
		return nil, &ProviderError{Code: "auth/operation-not-allowed"}
	}
	p, err := f.interactive(ctx)
	if err == nil {
		f.emit(p)
	}
	return p, err
}

func (f *fakeIDP) SignInWithPassword(ctx context.Context, email, pw string) (*Principal, error) {
	f.mu.Lock()
	f.passwordHits++
	fn := f.password
	f.mu.Unlock()
	if fn == nil {
		return nil, &ProviderError{Code: "auth/user-not-found"}
	}
	p, err := fn(ctx, email, pw)
	if err == nil {
		f.emit(p)
	}
	return p, err
}

func (f *fakeIDP) OnPrincipalChanged(fn func(*Principal)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	current := clonePrincipal(f.current)
	f.mu.Unlock()

	fn(current)

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeIDP) Token(_ context.Context, p *Principal) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "tok-" + p.UID, nil
}

func (f *fakeIDP) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	err := f.signOutErr
	f.mu.Unlock()
	f.emit(nil)
	return err
}

func (f *fakeIDP) emit(p *Principal) {
	f.mu.Lock()
	f.current = clonePrincipal(p)
	subs := make([]func(*Principal), 0, len(f.subs))
	for i := 0; i < f.nextSub; i++ {
		if fn, ok := f.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(clonePrincipal(p))
	}
}

func (f *fakeIDP) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeBackend struct {
	mu            sync.Mutex
	checkAuth     func(ctx context.Context, token string) (*SessionUser, error)
	login         func(ctx context.Context, email, pw string) (BackendResponse, error)
	firebaseLogin func(ctx context.Context, token, email, uid string) (BackendResponse, error)
	sync          func(ctx context.Context, a IdentityAssertion) (BackendResponse, error)
	logoutErr     error
	calls         []string
	checkTokens   []string
}

var errNoSession = NewAuthError(KindInvalidCredential, "no session", nil)

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) Login(ctx context.Context, email, pw string) (BackendResponse, error) {
	b.record("login")
	if b.login == nil {
		return BackendResponse{}, NewAuthError(KindInvalidCredential, "", nil)
	}
	return b.login(ctx, email, pw)
}

func (b *fakeBackend) CheckAuth(ctx context.Context, token string) (*SessionUser, error) {
	b.mu.Lock()
	b.calls = append(b.calls, "check-auth")
	b.checkTokens = append(b.checkTokens, token)
	fn := b.checkAuth
	b.mu.Unlock()
	if fn == nil {
		return nil, errNoSession
	}
	return fn(ctx, token)
}

func (b *fakeBackend) FirebaseLogin(ctx context.Context, token, email, uid string) (BackendResponse, error) {
	b.record("firebase-login")
	if b.firebaseLogin == nil {
		return BackendResponse{}, NewAuthError(KindBackendUnavailable, "", nil)
	}
	return b.firebaseLogin(ctx, token, email, uid)
}

func (b *fakeBackend) Sync(ctx context.Context, a IdentityAssertion) (BackendResponse, error) {
	b.record("firebase-sync")
	if b.sync == nil {
		return BackendResponse{}, NewAuthError(KindBackendUnavailable, "", nil)
	}
	return b.sync(ctx, a)
}

func (b *fakeBackend) Logout(context.Context) error {
	b.record("logout")
	return b.logoutErr
}

func (b *fakeBackend) count(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (b *fakeBackend) tokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.checkTokens...)
}

type navigation struct {
	path string
	opts NavigateOptions
}

type fakeRouter struct {
	mu   sync.Mutex
	path string
	navs []navigation
}

func newFakeRouter(path string) *fakeRouter {
	return &fakeRouter{path: path}
}

func (r *fakeRouter) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *fakeRouter) Navigate(path string, opts NavigateOptions) {
	r.mu.Lock()
	r.path = path
	r.navs = append(r.navs, navigation{path: path, opts: opts})
	r.mu.Unlock()
}

func (r *fakeRouter) navigations() []navigation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]navigation(nil), r.navs...)
}

func (r *fakeRouter) setPath(p string) {
	r.mu.Lock()
	r.path = p
	r.mu.Unlock()
}

type fakeStore struct {
	mu        sync.Mutex
	user      *SessionUser
	principal *Principal
	events    []string
}

func (s *fakeStore) SetUser(u *SessionUser) {
	s.mu.Lock()
	s.user = cloneUser(u)
	s.events = append(s.events, "user")
	s.mu.Unlock()
}

func (s *fakeStore) SetIdentityPrincipal(p *Principal) {
	s.mu.Lock()
	s.principal = clonePrincipal(p)
	s.events = append(s.events, "principal")
	s.mu.Unlock()
}

func (s *fakeStore) currentUser() *SessionUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUser(s.user)
}

func (s *fakeStore) currentPrincipal() *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePrincipal(s.principal)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Login.NavigateDelay = 0
	cfg.Backend.Timeout = 2 * time.Second
	return cfg
}

type testRig struct {
	idp     *fakeIDP
	backend *fakeBackend
	router  *fakeRouter
	store   *fakeStore
	client  *Client
}

func newTestRig(t *testing.T, cfg Config, current *Principal, path string) *testRig {
	t.Helper()
	rig := &testRig{
		idp:     newFakeIDP(current),
		backend: &fakeBackend{},
		router:  newFakeRouter(path),
		store:   &fakeStore{},
	}
	client, err := New().
		WithConfig(cfg).
		WithIdentityProvider(rig.idp).
		WithBackend(rig.backend).
		WithRouter(rig.router).
		WithStore(rig.store).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	rig.client = client
	t.Cleanup(client.Close)
	return rig
}

func userFor(id string, role Role) *SessionUser {
	return &SessionUser{ID: id, Email: id + "@example.com", UserName: id, Role: role}
}

var errBoom = errors.New("boom")
