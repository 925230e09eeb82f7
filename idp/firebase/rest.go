package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brandmart/storeauth"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const maxResponseBody = 1 << 20

type signInResponse struct {
	LocalID          string `json:"localId"`
	Email            string `json:"email"`
	DisplayName      string `json:"displayName"`
	IDToken          string `json:"idToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        string `json:"expiresIn"`
	EmailVerified    bool   `json:"emailVerified"`
	NeedConfirmation bool   `json:"needConfirmation"`
	ProviderID       string `json:"providerId"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type restErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) signInWithPassword(ctx context.Context, email, password string) (signInResponse, error) {
	body := map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	var out signInResponse
	err := p.postJSON(ctx, p.cfg.IdentityToolkitURL+"/accounts:signInWithPassword", body, &out)
	return out, err
}

func (p *Provider) signInWithIdp(ctx context.Context, googleIDToken, requestURI string) (signInResponse, error) {
	post := url.Values{}
	post.Set("id_token", googleIDToken)
	post.Set("providerId", "google.com")
	body := map[string]any{
		"postBody":            post.Encode(),
		"requestUri":          requestURI,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}
	var out signInResponse
	if err := p.postJSON(ctx, p.cfg.IdentityToolkitURL+"/accounts:signInWithIdp", body, &out); err != nil {
		return out, err
	}
	if out.NeedConfirmation {
		return out, providerError("auth/account-exists-with-different-credential", out.Email)
	}
	return out, nil
}

func (p *Provider) refreshIDToken(ctx context.Context, refreshToken string) (refreshResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	var out refreshResponse
	err := p.do(ctx, p.cfg.SecureTokenURL+"/token", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), &out)
	if err == nil && out.IDToken == "" {
		err = providerError("auth/internal-error", "refresh returned no id token")
	}
	return out, err
}

func (p *Provider) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return p.do(ctx, endpoint, "application/json", bytes.NewReader(raw), out)
}

func (p *Provider) do(ctx context.Context, endpoint, contentType string, body io.Reader, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", p.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		p.log.Debug("request failed", zap.String("path", u.Path), zap.Error(err))
		return providerError("auth/network-request-failed", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return providerError("auth/network-request-failed", err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		var e restErrorBody
		if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
			return restError(e.Error.Message)
		}
		return providerError("auth/internal-error", fmt.Sprintf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providerError("auth/internal-error", "malformed response")
	}
	return nil
}

// sessionFrom builds a session from a sign-in response. signInWithPassword
// does not report email verification, so it is read from the ID token claims.
func (p *Provider) sessionFrom(res signInResponse, providerID string) (*session, error) {
	if res.LocalID == "" || res.IDToken == "" {
		return nil, providerError("auth/internal-error", "sign-in returned no user")
	}
	verified := res.EmailVerified
	if claims, ok := unverifiedClaims(res.IDToken); ok {
		if v, ok := claims["email_verified"].(bool); ok {
			verified = verified || v
		}
	}
	if res.ProviderID != "" {
		providerID = res.ProviderID
	}
	return &session{
		principal: storeauth.Principal{
			UID:           res.LocalID,
			Email:         res.Email,
			EmailVerified: verified,
			DisplayName:   res.DisplayName,
			ProviderID:    providerID,
		},
		idToken:      res.IDToken,
		refreshToken: res.RefreshToken,
		expiresAt:    p.cfg.Now().Add(parseExpiresIn(res.ExpiresIn)),
	}, nil
}

// unverifiedClaims reads claims without checking the signature.
func unverifiedClaims(raw string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func parseExpiresIn(raw string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}
