package storeauth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Credential is the outcome of a successful interactive sign-in.
type Credential struct {
	Assertion    IdentityAssertion
	DisplayEmail string
}

// CredentialProvider drives the identity provider's interactive flow and
// turns its outcome into a [Credential] or a classified [AuthError].
type CredentialProvider struct {
	idp IdentityProvider
	log *zap.Logger
}

// NewCredentialProvider wraps idp. A nil logger logs nothing.
func NewCredentialProvider(idp IdentityProvider, logger *zap.Logger) *CredentialProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialProvider{idp: idp, log: logger.Named("credential")}
}

// SignIn runs the interactive flow. Errors are *AuthError with kind
// Cancelled, PopupBlocked, Network, ConflictingCredential or Unknown; use
// errors.Is(err, ErrCancelled) to tell a dismissal from a failure.
func (p *CredentialProvider) SignIn(ctx context.Context) (Credential, error) {
	if p == nil || p.idp == nil {
		return Credential{}, ErrClientNotReady
	}

	principal, err := p.idp.SignInInteractive(ctx)
	if err != nil {
		return Credential{}, p.fail("sign_in", err)
	}
	if principal == nil || principal.UID == "" {
		return Credential{}, NewAuthError(KindUnknown, "identity provider returned no principal", nil)
	}

	token, err := p.idp.Token(ctx, principal)
	if err != nil {
		return Credential{}, p.fail("token", err)
	}
	if strings.TrimSpace(token) == "" {
		return Credential{}, NewAuthError(KindUnknown, "identity provider returned an empty token", nil)
	}

	return Credential{
		Assertion: IdentityAssertion{
			Token:         token,
			UID:           principal.UID,
			Email:         principal.Email,
			EmailVerified: principal.EmailVerified,
			DisplayName:   principal.DisplayName,
		},
		DisplayEmail: principal.Email,
	}, nil
}

func (p *CredentialProvider) fail(step string, err error) error {
	kind := ClassifyProviderError(err)
	switch kind {
	case KindCancelled, KindPopupBlocked, KindNetwork, KindConflictingCredential, KindRateLimited:
	default:
		kind = KindUnknown
	}
	if kind == KindCancelled {
		p.log.Debug("interactive sign-in dismissed", zap.String("step", step))
	} else {
		p.log.Info("interactive sign-in failed", zap.String("step", step), zap.String("kind", kind.String()), zap.Error(err))
	}
	return NewAuthError(kind, providerMessage(err, kind), err)
}

// providerMessage keeps the provider's own text for unclassified errors so
// the UI can show it as-is.
func providerMessage(err error, kind ErrorKind) string {
	if kind != KindUnknown {
		return kindSentinels[kind].Error()
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return kindSentinels[KindUnknown].Error()
}
