// Package tokenverify verifies Firebase ID tokens presented to the backend.
package tokenverify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DefaultJWKSURL serves the keys Firebase signs ID tokens with.
const DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// ErrInvalidToken is returned for every token that fails verification.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is what a verified ID token asserts.
type Identity struct {
	UID            string
	Email          string
	EmailVerified  bool
	Name           string
	SignInProvider string
	ExpiresAt      time.Time
}

// Config configures a [Verifier].
type Config struct {
	// ProjectID is the Firebase project; it is the expected audience.
	ProjectID string
	// Issuer defaults to https://securetoken.google.com/<ProjectID>.
	Issuer string
	// JWKSURL defaults to [DefaultJWKSURL].
	JWKSURL string
	// KeySet replaces the remote key set.
	KeySet oidc.KeySet
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Verifier checks signature, issuer, audience and expiry of ID tokens.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// New builds a verifier. ctx scopes background key fetches.
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("firebase project id required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "https://securetoken.google.com/" + cfg.ProjectID
	}
	keySet := cfg.KeySet
	if keySet == nil {
		jwks := cfg.JWKSURL
		if jwks == "" {
			jwks = DefaultJWKSURL
		}
		keySet = oidc.NewRemoteKeySet(ctx, jwks)
	}

	return &Verifier{
		verifier: oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
			ClientID: cfg.ProjectID,
			Now:      cfg.Now,
		}),
	}, nil
}

type firebaseClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// Verify validates raw and returns its identity.
func (v *Verifier) Verify(ctx context.Context, raw string) (Identity, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tok.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	var c firebaseClaims
	if err := tok.Claims(&c); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Identity{
		UID:            tok.Subject,
		Email:          strings.ToLower(strings.TrimSpace(c.Email)),
		EmailVerified:  c.EmailVerified,
		Name:           c.Name,
		SignInProvider: c.Firebase.SignInProvider,
		ExpiresAt:      tok.Expiry,
	}, nil
}
