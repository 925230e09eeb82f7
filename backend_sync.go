package storeauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SyncStatus tags a [SyncResult].
type SyncStatus uint8

const (
	// SyncOK means the backend returned the account.
	SyncOK SyncStatus = iota
	// SyncDegraded means the backend accepted the assertion without returning
	// the account; the user was built locally with the least-privileged role
	// and the gate is expected to reconcile it.
	SyncDegraded
)

func (s SyncStatus) String() string {
	if s == SyncDegraded {
		return "degraded"
	}
	return "ok"
}

// SyncResult is the outcome of [BackendSync.Sync].
type SyncResult struct {
	Status SyncStatus
	User   SessionUser
}

// BackendSync exchanges an [IdentityAssertion] for a backend session.
// Retrying with the same assertion is safe: the backend links identities
// idempotently.
type BackendSync struct {
	backend Backend
	timeout time.Duration
	log     *zap.Logger
}

// NewBackendSync wraps backend with a per-call timeout.
func NewBackendSync(backend Backend, timeout time.Duration, logger *zap.Logger) *BackendSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultConfig().Backend.Timeout
	}
	return &BackendSync{backend: backend, timeout: timeout, log: logger.Named("sync")}
}

// Sync consumes assertion once. Errors are *AuthError.
func (s *BackendSync) Sync(ctx context.Context, assertion IdentityAssertion) (SyncResult, error) {
	if s == nil || s.backend == nil {
		return SyncResult{}, ErrClientNotReady
	}
	if strings.TrimSpace(assertion.Token) == "" {
		return SyncResult{}, NewAuthError(KindInvalidCredential, "identity assertion has no token", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.backend.Sync(ctx, assertion)
	if err != nil {
		return SyncResult{}, backendError(err)
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "backend rejected the identity assertion"
		}
		return SyncResult{}, NewAuthError(KindInvalidCredential, msg, nil)
	}
	if resp.User == nil {
		s.log.Info("sync succeeded without a user, continuing degraded")
		return SyncResult{Status: SyncDegraded, User: *degradedUser(assertion.UID, assertion.Email, assertion.DisplayName, assertion.EmailVerified)}, nil
	}

	user := cloneUser(resp.User)
	user.Role = ParseRole(string(user.Role))
	return SyncResult{Status: SyncOK, User: *user}, nil
}

// degradedUser is the stand-in used when the backend confirmed the session but
// did not return the account. It always carries the least-privileged role.
func degradedUser(uid, email, displayName string, emailVerified bool) *SessionUser {
	verified := emailVerified
	name := displayName
	if name == "" {
		if at := strings.IndexByte(email, '@'); at > 0 {
			name = email[:at]
		}
	}
	return &SessionUser{
		ID:            uid,
		Email:         email,
		UserName:      name,
		Role:          RoleUser,
		EmailVerified: &verified,
	}
}

// backendError maps a backend adapter failure onto the taxonomy. Adapters
// normally return *AuthError already; anything else is a transport problem.
func backendError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	kind := ClassifyProviderError(err)
	if kind == KindUnknown {
		kind = KindBackendUnavailable
	}
	return NewAuthError(kind, kindSentinels[kind].Error(), err)
}
