package firebase

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/brandmart/storeauth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const callbackPath = "/__/auth/callback"

type callbackResult struct {
	code string
	err  error
}

// SignInInteractive runs the Google consent flow and signs in to Firebase
// with the resulting Google ID token.
//
// The consent page redirects to a loopback listener bound for this attempt
// only. Cancelling ctx or a denied consent reports auth/popup-closed-by-user,
// an Opener failure reports auth/popup-blocked and running out of
// InteractiveTimeout reports auth/timeout.
func (p *Provider) SignInInteractive(ctx context.Context) (*storeauth.Principal, error) {
	if p.cfg.GoogleClientID == "" || p.cfg.Opener == nil {
		return nil, providerError("auth/operation-not-allowed", "interactive sign-in is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, providerError("auth/internal-error", "loopback listener: "+err.Error())
	}
	redirectURL := "http://" + ln.Addr().String() + callbackPath

	oc := &oauth2.Config{
		ClientID:     p.cfg.GoogleClientID,
		ClientSecret: p.cfg.GoogleClientSecret,
		Endpoint:     p.cfg.GoogleEndpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
	}

	state, err := randomState()
	if err != nil {
		ln.Close()
		return nil, providerError("auth/internal-error", "state: "+err.Error())
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Debug("loopback server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := oc.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	if err := p.cfg.Opener(authURL); err != nil {
		return nil, providerError("auth/popup-blocked", err.Error())
	}

	timer := time.NewTimer(p.cfg.InteractiveTimeout)
	defer timer.Stop()

	var code string
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, providerError("auth/timeout", "")
		}
		return nil, providerError("auth/popup-closed-by-user", "")
	case <-timer.C:
		return nil, providerError("auth/timeout", "")
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		code = res.code
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.http)
	tok, err := oc.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		if ctx.Err() != nil {
			return nil, providerError("auth/popup-closed-by-user", "")
		}
		return nil, providerError("auth/invalid-credential", fmt.Sprintf("google code exchange: %v", err))
	}
	googleIDToken, _ := tok.Extra("id_token").(string)
	if strings.TrimSpace(googleIDToken) == "" {
		return nil, providerError("auth/invalid-credential", "google did not return an id_token")
	}

	res, err := p.signInWithIdp(ctx, googleIDToken, redirectURL)
	if err != nil {
		return nil, err
	}
	s, err := p.sessionFrom(res, "google.com")
	if err != nil {
		return nil, err
	}
	return p.setSession(s), nil
}

func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		case q.Get("error") == "access_denied":
			res.err = providerError("auth/popup-closed-by-user", "consent denied")
		case q.Get("error") != "":
			res.err = providerError("auth/internal-error", q.Get("error"))
		case q.Get("code") == "":
			res.err = providerError("auth/internal-error", "missing authorization code")
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
		default:
			http.Error(w, "sign-in already completed", http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>You can close this window.</body></html>"))
	})
	return mux
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
