package storeauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GateState is the reconciliation state of a [Gate].
type GateState uint8

const (
	// GateUnchecked is the state before the first notification.
	GateUnchecked GateState = iota
	// GateChecking means a backend verification for the latest notification is in flight.
	GateChecking
	// GateAuthenticated means the backend verified the session.
	GateAuthenticated
	// GateUnauthenticated means no verified session exists.
	GateUnauthenticated
)

func (s GateState) String() string {
	switch s {
	case GateUnchecked:
		return "unchecked"
	case GateChecking:
		return "checking_backend"
	case GateAuthenticated:
		return "authenticated"
	case GateUnauthenticated:
		return "unauthenticated"
	default:
		return "invalid"
	}
}

// GateDeps are the collaborators a [Gate] needs.
type GateDeps struct {
	IdentityProvider IdentityProvider
	Backend          Backend
	Router           Router
	Store            Store
	Flag             *LogoutFlag
	Logger           *zap.Logger
	Metrics          *Metrics
}

// Gate reconciles identity-provider notifications with the backend session
// and drives routing from the result.
//
// Every notification is stamped with a sequence number when it is delivered.
// A verification result is applied only while its notification is still the
// latest one, so a slow check for an old principal can never overwrite the
// outcome of a newer notification. Once the first result is applied, Checked
// stays true; later checks keep the previous user visible until they settle.
type Gate struct {
	deps    GateDeps
	routes  RoutesConfig
	cfg     GateConfig
	timeout time.Duration
	log     *zap.Logger
	tel     *telemetry

	mu          sync.Mutex
	state       GateState
	status      AuthStatus
	seq         uint64
	principal   *Principal
	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	watchers    map[uint64]chan AuthStatus
	nextWatcher uint64
	closedCh    chan struct{}

	inflight sync.WaitGroup
}

// NewGate builds an unstarted gate. IdentityProvider and Backend are required.
func NewGate(cfg Config, deps GateDeps) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newGate(cfg, deps, &telemetry{metrics: deps.Metrics}), nil
}

func newGate(cfg Config, deps GateDeps, tel *telemetry) *Gate {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Flag == nil {
		deps.Flag = NewLogoutFlag()
	}
	return &Gate{
		deps:     deps,
		routes:   cfg.Routes,
		cfg:      cfg.Gate,
		timeout:  cfg.Backend.Timeout,
		log:      logger.Named("gate"),
		tel:      tel,
		watchers: make(map[uint64]chan AuthStatus),
		closedCh: make(chan struct{}),
	}
}

// Start subscribes to identity-provider notifications. The subscription lives
// until [Gate.Close] or until ctx is cancelled.
func (g *Gate) Start(ctx context.Context) error {
	if g == nil || g.deps.IdentityProvider == nil || g.deps.Backend == nil {
		return ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGateClosed
	}
	if g.started {
		g.mu.Unlock()
		return ErrGateStarted
	}
	g.started = true
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.mu.Unlock()

	// The provider may deliver the current state synchronously from inside
	// OnPrincipalChanged, so the lock must not be held here.
	unsubscribe := g.deps.IdentityProvider.OnPrincipalChanged(g.onPrincipal)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrGateClosed
	}
	g.unsubscribe = unsubscribe
	g.mu.Unlock()

	go func() {
		<-g.ctx.Done()
		g.Close()
	}()

	g.log.Debug("subscribed to identity notifications")
	return nil
}

// Close unsubscribes, cancels in-flight verifications and waits for them to
// return. Watch channels are closed. Close is idempotent.
func (g *Gate) Close() {
	if g == nil {
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	cancel := g.cancel
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	g.inflight.Wait()

	g.mu.Lock()
	for id, ch := range g.watchers {
		close(ch)
		delete(g.watchers, id)
	}
	close(g.closedCh)
	g.mu.Unlock()
}

// Status returns the current reconciled status.
func (g *Gate) Status() AuthStatus {
	if g == nil {
		return AuthStatus{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyStatus(g.status)
}

// State returns the current state machine state.
func (g *Gate) State() GateState {
	if g == nil {
		return GateUnchecked
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Render decides what the page at path should show right now.
func (g *Gate) Render(path string) RouteDecision {
	if g == nil {
		return RouteDecision{Action: RouteLoading}
	}
	return g.routes.Render(path, g.Status())
}

// Watch returns a channel that receives the status after every settled
// verification. A slow reader only misses intermediate values; the channel
// is closed when ctx ends or the gate closes.
func (g *Gate) Watch(ctx context.Context) <-chan AuthStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan AuthStatus, g.cfg.WatchBuffer)
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		close(ch)
		return ch
	}
	id := g.nextWatcher
	g.nextWatcher++
	g.watchers[id] = ch
	g.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-g.closedCh:
		}
		g.mu.Lock()
		if w, ok := g.watchers[id]; ok {
			close(w)
			delete(g.watchers, id)
		}
		g.mu.Unlock()
	}()
	return ch
}

// onPrincipal is the identity-provider callback. It stamps the notification,
// settles the cases that need no backend call, and otherwise starts one
// verification in the background.
func (g *Gate) onPrincipal(p *Principal) {
	principal := clonePrincipal(p)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.seq++
	seq := g.seq
	g.principal = clonePrincipal(principal)
	ctx := g.ctx
	g.mu.Unlock()

	if g.deps.Store != nil {
		g.deps.Store.SetIdentityPrincipal(clonePrincipal(principal))
	}

	if principal == nil && g.deps.Flag.IsLoggingOut() {
		g.tel.inc(MetricGateSuppressed)
		g.log.Debug("sign-out notification during logout, skipping backend check", zap.Uint64("seq", seq))
		g.settle(seq, nil, false)
		return
	}
	if principal == nil && !g.cfg.CookieFallback {
		g.settle(seq, nil, true)
		return
	}

	g.mu.Lock()
	if g.closed || seq != g.seq {
		g.mu.Unlock()
		return
	}
	g.state = GateChecking
	g.inflight.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.inflight.Done()
		user := g.verify(ctx, seq, principal)
		if ctx.Err() != nil {
			return
		}
		g.settle(seq, user, true)
	}()
}

// Refresh re-verifies the session outside of a notification: with the
// current principal's token when there is one, otherwise with the session
// cookie. It takes a new sequence number, so any check still in flight is
// discarded, and it returns once the result is applied. Refresh does not
// redirect.
func (g *Gate) Refresh(ctx context.Context) (AuthStatus, error) {
	if g == nil || g.deps.Backend == nil {
		return AuthStatus{}, ErrClientNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return AuthStatus{}, ErrGateClosed
	}
	g.seq++
	seq := g.seq
	principal := clonePrincipal(g.principal)
	gateCtx := g.ctx
	g.state = GateChecking
	g.inflight.Add(1)
	g.mu.Unlock()
	defer g.inflight.Done()

	if gateCtx != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(gateCtx, cancel)
		defer stop()
	}

	user := g.verify(ctx, seq, principal)
	if err := ctx.Err(); err != nil {
		return g.Status(), NewAuthError(KindCancelled, "session refresh cancelled", err)
	}
	g.settle(seq, user, false)
	return g.Status(), nil
}

// verify asks the backend for the session user. A nil result means the
// session is not valid; every failure is treated that way.
func (g *Gate) verify(ctx context.Context, seq uint64, principal *Principal) *SessionUser {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.tel.inc(MetricGateCheck)
	start := time.Now()
	defer func() { g.tel.observe(MetricCheckLatency, time.Since(start)) }()

	token := ""
	if principal != nil {
		t, err := g.deps.IdentityProvider.Token(ctx, principal)
		if err != nil {
			g.checkFailed(ctx, seq, "token", err)
			return nil
		}
		token = t
	}

	user, err := g.deps.Backend.CheckAuth(ctx, token)
	if err != nil {
		g.checkFailed(ctx, seq, "check_auth", err)
		return nil
	}
	if user == nil {
		return nil
	}
	out := cloneUser(user)
	out.Role = ParseRole(string(out.Role))
	return out
}

func (g *Gate) checkFailed(ctx context.Context, seq uint64, step string, err error) {
	kind := KindOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindNetwork
	}
	if kind == KindInvalidCredential || kind == KindAccountDisabled {
		g.log.Debug("session not valid", zap.Uint64("seq", seq), zap.String("step", step))
		return
	}
	g.tel.inc(MetricGateCheckFailure)
	g.log.Warn("session verification failed",
		zap.Uint64("seq", seq),
		zap.String("step", step),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)
	g.tel.emit(ctx, AuditEvent{
		EventType: auditEventGateCheckFailed,
		Success:   false,
		Error:     kind.String(),
		Metadata:  map[string]string{"step": step},
	})
}

// settle applies the outcome of notification seq. It is a no-op when a newer
// notification has been delivered since.
func (g *Gate) settle(seq uint64, user *SessionUser, redirect bool) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if seq != g.seq {
		g.mu.Unlock()
		g.tel.inc(MetricGateStaleDiscarded)
		g.log.Debug("discarding stale verification", zap.Uint64("seq", seq))
		return
	}

	status := AuthStatus{Checked: true, Authenticated: user != nil, User: user}
	if user != nil {
		g.state = GateAuthenticated
	} else {
		g.state = GateUnauthenticated
	}
	g.status = status
	snapshot := copyStatus(status)
	watchers := make([]uint64, 0, len(g.watchers))
	for id := range g.watchers {
		watchers = append(watchers, id)
	}
	ctx := g.ctx
	g.mu.Unlock()

	if g.deps.Store != nil {
		g.deps.Store.SetUser(cloneUser(user))
	}

	if user != nil {
		g.tel.inc(MetricGateAuthenticated)
		g.tel.emit(ctx, AuditEvent{
			EventType: auditEventGateAuthenticated,
			UserID:    user.ID,
			Role:      string(user.Role),
			Success:   true,
		})
	} else {
		g.tel.inc(MetricGateUnauthenticated)
		g.tel.emit(ctx, AuditEvent{EventType: auditEventGateUnauthenticated, Success: true})
	}

	for _, id := range watchers {
		g.notify(id, snapshot)
	}

	if redirect {
		g.route(snapshot)
	}
}

func (g *Gate) notify(id uint64, status AuthStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.watchers[id]
	if !ok {
		return
	}
	select {
	case ch <- copyStatus(status):
	default:
		// Keep the newest value: drop the oldest buffered status and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- copyStatus(status):
		default:
		}
	}
}

func (g *Gate) route(status AuthStatus) {
	if g.deps.Router == nil {
		return
	}
	path := g.deps.Router.CurrentPath()
	decision := g.routes.Decide(path, status)
	if !decision.Redirect() || decision.Target == path {
		return
	}
	g.log.Debug("redirect", zap.String("from", path), zap.String("to", decision.Target))
	g.deps.Router.Navigate(decision.Target, NavigateOptions{
		Replace: true,
		State:   NavigateState{From: decision.From},
	})
}

func copyStatus(s AuthStatus) AuthStatus {
	s.User = cloneUser(s.User)
	return s
}
