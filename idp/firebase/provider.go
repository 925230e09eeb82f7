package firebase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brandmart/storeauth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	defaultSecureTokenURL     = "https://securetoken.googleapis.com/v1"
	defaultInteractiveTimeout = 2 * time.Minute
	defaultRequestTimeout     = 30 * time.Second

	// tokenSkew refreshes ID tokens slightly before they expire.
	tokenSkew = 5 * time.Minute
)

// GoogleEndpoint is the Google OAuth 2.0 endpoint used by interactive sign-in.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Opener shows url to the user, usually by launching a browser.
type Opener func(url string) error

// Config configures a [Provider].
type Config struct {
	// APIKey is the Firebase web API key.
	APIKey string

	// IdentityToolkitURL and SecureTokenURL override the REST endpoints.
	IdentityToolkitURL string
	SecureTokenURL     string

	// Google OAuth client used for interactive sign-in. Leave ClientID empty
	// to disable SignInInteractive.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleEndpoint     oauth2.Endpoint

	// Opener launches the consent page. Required for interactive sign-in.
	Opener Opener

	// InteractiveTimeout bounds the wait for the user to finish consent.
	InteractiveTimeout time.Duration

	// RequestTimeout bounds each REST call.
	RequestTimeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger

	// Now is the clock used for token expiry. Defaults to time.Now.
	Now func() time.Time
}

type session struct {
	principal    storeauth.Principal
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

// Provider is a Firebase-backed storeauth.IdentityProvider.
type Provider struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger

	mu      sync.Mutex
	current *session
	subs    map[uint64]func(*storeauth.Principal)
	nextSub uint64

	// notifyMu serializes deliveries so subscribers observe changes in order.
	notifyMu sync.Mutex

	refresh singleflight.Group
}

var _ storeauth.IdentityProvider = (*Provider)(nil)

// New validates cfg and returns a signed-out provider.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("firebase api key required")
	}
	if cfg.IdentityToolkitURL == "" {
		cfg.IdentityToolkitURL = defaultIdentityToolkitURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = defaultSecureTokenURL
	}
	cfg.IdentityToolkitURL = strings.TrimRight(cfg.IdentityToolkitURL, "/")
	cfg.SecureTokenURL = strings.TrimRight(cfg.SecureTokenURL, "/")
	if cfg.GoogleEndpoint.TokenURL == "" {
		cfg.GoogleEndpoint = GoogleEndpoint
	}
	if cfg.InteractiveTimeout <= 0 {
		cfg.InteractiveTimeout = defaultInteractiveTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		cfg:  cfg,
		http: client,
		log:  logger.Named("firebase"),
		subs: make(map[uint64]func(*storeauth.Principal)),
	}, nil
}

// CurrentPrincipal returns the signed-in principal, or nil.
func (p *Provider) CurrentPrincipal() *storeauth.Principal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	pr := p.current.principal
	return &pr
}

// SignInWithPassword signs in with email and password.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*storeauth.Principal, error) {
	res, err := p.signInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s, err := p.sessionFrom(res, "password")
	if err != nil {
		return nil, err
	}
	return p.setSession(s), nil
}

// OnPrincipalChanged registers fn and immediately calls it with the current
// principal. fn must not subscribe again from inside the callback.
func (p *Provider) OnPrincipalChanged(fn func(*storeauth.Principal)) func() {
	if fn == nil {
		return func() {}
	}

	p.notifyMu.Lock()
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	var current *storeauth.Principal
	if p.current != nil {
		pr := p.current.principal
		current = &pr
	}
	p.mu.Unlock()
	fn(current)
	p.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Token returns a valid ID token for principal, refreshing it when close to
// expiry. Concurrent callers share one refresh, which is not tied to any
// single caller's cancellation.
func (p *Provider) Token(ctx context.Context, principal *storeauth.Principal) (string, error) {
	p.mu.Lock()
	s := p.current
	if s == nil || principal == nil || s.principal.UID != principal.UID {
		p.mu.Unlock()
		return "", providerError("auth/no-current-user", "principal is not signed in")
	}
	if p.cfg.Now().Add(tokenSkew).Before(s.expiresAt) {
		tok := s.idToken
		p.mu.Unlock()
		return tok, nil
	}
	refreshToken := s.refreshToken
	uid := s.principal.UID
	p.mu.Unlock()

	flight := p.refresh.DoChan(refreshToken, func() (any, error) {
		p.mu.Lock()
		if c := p.current; c != nil && c.refreshToken != refreshToken && p.cfg.Now().Add(tokenSkew).Before(c.expiresAt) {
			tok := c.idToken
			p.mu.Unlock()
			return tok, nil
		}
		p.mu.Unlock()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestTimeout)
		defer cancel()
		res, err := p.refreshIDToken(rctx, refreshToken)
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.current == nil || p.current.principal.UID != uid {
			return "", providerError("auth/no-current-user", "signed out during refresh")
		}
		p.current.idToken = res.IDToken
		if res.RefreshToken != "" {
			p.current.refreshToken = res.RefreshToken
		}
		p.current.expiresAt = p.cfg.Now().Add(parseExpiresIn(res.ExpiresIn))
		p.log.Debug("id token refreshed", zap.String("uid", uid))
		return res.IDToken, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-flight:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// SignOut forgets the local session and notifies subscribers with nil.
func (p *Provider) SignOut(ctx context.Context) error {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.current = nil
	subs := p.snapshotSubs()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(nil)
	}
	return nil
}

func (p *Provider) setSession(s *session) *storeauth.Principal {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.current = s
	subs := p.snapshotSubs()
	p.mu.Unlock()

	p.log.Debug("signed in", zap.String("uid", s.principal.UID), zap.String("provider", s.principal.ProviderID))
	for _, fn := range subs {
		pr := s.principal
		fn(&pr)
	}
	out := s.principal
	return &out
}

// snapshotSubs must be called with p.mu held.
func (p *Provider) snapshotSubs() []func(*storeauth.Principal) {
	out := make([]func(*storeauth.Principal), 0, len(p.subs))
	for i := uint64(0); i < p.nextSub; i++ {
		if fn, ok := p.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
