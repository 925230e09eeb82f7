package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/brandmart/storeauth"
	"go.uber.org/zap"
)

const (
	loginPath         = "/api/auth/login"
	logoutPath        = "/api/auth/logout"
	checkAuthPath     = "/api/auth/check-auth"
	firebaseLoginPath = "/api/auth/firebase-login"
	firebaseSyncPath  = "/api/auth/firebase-sync"

	defaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
)

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. A cookie jar is installed when the
// given client has none.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout bounds each call. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

// Client calls the backend auth endpoints.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
}

var _ storeauth.Backend = (*Client)(nil)

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("backend url must be http or https")
	}

	c := &Client{
		base:    u,
		http:    &http.Client{},
		timeout: defaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	c.log = c.log.Named("backend")
	return c, nil
}

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	User    *storeauth.SessionUser `json:"user,omitempty"`
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type identityBody struct {
	Email         string `json:"email"`
	FirebaseUID   string `json:"firebaseUid"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified *bool  `json:"emailVerified,omitempty"`
}

// Login posts email and password to the primary login endpoint. A 200 with
// success=false is returned as a response, not an error.
func (c *Client) Login(ctx context.Context, email, password string) (storeauth.BackendResponse, error) {
	env, err := c.do(ctx, http.MethodPost, loginPath, "", credentialsBody{Email: email, Password: password})
	if err != nil {
		return storeauth.BackendResponse{}, err
	}
	return env.response(), nil
}

// CheckAuth verifies the session. With a token it presents the identity
// token as a bearer credential; without one only the cookie is sent. A 401
// means no valid session.
func (c *Client) CheckAuth(ctx context.Context, token string) (*storeauth.SessionUser, error) {
	env, err := c.do(ctx, http.MethodGet, checkAuthPath, token, nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, storeauth.NewAuthError(storeauth.KindInvalidCredential, env.Message, nil)
	}
	return env.User, nil
}

// FirebaseLogin exchanges an identity-provider token for a backend session.
func (c *Client) FirebaseLogin(ctx context.Context, token, email, uid string) (storeauth.BackendResponse, error) {
	env, err := c.do(ctx, http.MethodPost, firebaseLoginPath, token, identityBody{Email: email, FirebaseUID: uid})
	if err != nil {
		return storeauth.BackendResponse{}, err
	}
	return env.response(), nil
}

// Sync exchanges an identity assertion for a backend session. The backend
// links identities idempotently, so retries return the same account.
func (c *Client) Sync(ctx context.Context, a storeauth.IdentityAssertion) (storeauth.BackendResponse, error) {
	verified := a.EmailVerified
	body := identityBody{
		Email:         a.Email,
		FirebaseUID:   a.UID,
		DisplayName:   a.DisplayName,
		EmailVerified: &verified,
	}
	env, err := c.do(ctx, http.MethodPost, firebaseSyncPath, a.Token, body)
	if err != nil {
		return storeauth.BackendResponse{}, err
	}
	return env.response(), nil
}

// Logout invalidates the cookie session. A 401 counts as success since there
// was no session left to invalidate.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, logoutPath, "", nil)
	if err != nil && storeauth.KindOf(err) == storeauth.KindInvalidCredential {
		return nil
	}
	return err
}

func (e envelope) response() storeauth.BackendResponse {
	return storeauth.BackendResponse{Success: e.Success, Message: e.Message, User: e.User}
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body any) (envelope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return envelope{}, storeauth.NewAuthError(storeauth.KindUnknown, "encode request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return envelope{}, storeauth.NewAuthError(storeauth.KindUnknown, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", zap.String("path", path), zap.Error(err))
		return envelope{}, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return envelope{}, transportError(err)
	}
	c.log.Debug("response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return envelope{}, storeauth.NewAuthError(storeauth.KindBackendUnavailable, "backend returned a non-JSON response", decodeErr)
		}
		return env, nil
	}

	msg := ""
	if decodeErr == nil {
		msg = env.Message
	}
	return envelope{}, statusError(resp.StatusCode, msg)
}

func statusError(status int, message string) *storeauth.AuthError {
	var kind storeauth.ErrorKind
	switch {
	case status == http.StatusBadRequest:
		kind = storeauth.KindMalformedInput
	case status == http.StatusUnauthorized:
		kind = storeauth.KindInvalidCredential
	case status == http.StatusForbidden:
		kind = storeauth.KindAccountDisabled
	case status == http.StatusNotFound:
		kind = storeauth.KindNoAccount
	case status == http.StatusConflict:
		kind = storeauth.KindConflictingCredential
	case status == http.StatusTooManyRequests:
		kind = storeauth.KindRateLimited
	default:
		kind = storeauth.KindBackendUnavailable
	}
	return storeauth.NewAuthError(kind, message, fmt.Errorf("backend status %d", status))
}

func transportError(err error) *storeauth.AuthError {
	if errors.Is(err, context.Canceled) {
		return storeauth.NewAuthError(storeauth.KindCancelled, "", err)
	}
	return storeauth.NewAuthError(storeauth.KindNetwork, "", err)
}
