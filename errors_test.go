package storeauth

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindUnknown},
		{&ProviderError{Code: "auth/popup-closed-by-user"}, KindCancelled},
		{&ProviderError{Code: "auth/cancelled-popup-request"}, KindCancelled},
		{&ProviderError{Code: "auth/popup-blocked"}, KindPopupBlocked},
		{&ProviderError{Code: "auth/network-request-failed"}, KindNetwork},
		{&ProviderError{Code: "auth/account-exists-with-different-credential"}, KindConflictingCredential},
		{&ProviderError{Code: " AUTH/USER-NOT-FOUND "}, KindNoAccount},
		{fmt.Errorf("wrapped: %w", &ProviderError{Code: "auth/wrong-password"}), KindWrongPassword},
		{context.Canceled, KindCancelled},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), KindNetwork},
		{errors.New("plain"), KindUnknown},
		{NewAuthError(KindRateLimited, "", nil), KindRateLimited},
	}
	for _, tc := range cases {
		if got := ClassifyProviderError(tc.err); got != tc.want {
			t.Fatalf("ClassifyProviderError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestAuthErrorMatching(t *testing.T) {
	err := fmt.Errorf("login: %w", NewAuthError(KindWrongPassword, "", errBoom))
	if !errors.Is(err, ErrWrongPassword) || !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("credential kinds must match their sentinel and ErrInvalidCredential")
	}
	if errors.Is(err, ErrNoAccount) {
		t.Fatalf("must not match another kind")
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("cause must be reachable")
	}
	if errors.Is(NewAuthError(KindNetwork, "", nil), ErrInvalidCredential) {
		t.Fatalf("network errors are not credential errors")
	}
	if KindOf(err) != KindWrongPassword {
		t.Fatalf("KindOf lost the kind")
	}
}

func TestAsAuthErrorKeepsCause(t *testing.T) {
	pe := &ProviderError{Code: "auth/user-disabled", Message: "disabled by admin"}
	ae := AsAuthError(pe)
	if ae.Kind != KindAccountDisabled || !errors.Is(ae, pe) {
		t.Fatalf("unexpected conversion %+v", ae)
	}
	if AsAuthError(nil) != nil {
		t.Fatalf("nil in, nil out")
	}
	if same := NewAuthError(KindNetwork, "", nil); AsAuthError(same) != same {
		t.Fatalf("existing *AuthError must be returned unchanged")
	}
}

func TestUserMessageDistinguishesKinds(t *testing.T) {
	seen := map[string]ErrorKind{}
	for kind := KindUnknown; kind <= KindBackendUnavailable; kind++ {
		msg := UserMessage(NewAuthError(kind, "", nil))
		if msg == "" {
			t.Fatalf("%v: empty message", kind)
		}
		if prev, ok := seen[msg]; ok && kind != KindUnknown {
			t.Fatalf("%v and %v share message %q", prev, kind, msg)
		}
		seen[msg] = kind
	}
	if UserMessage(nil) != "" {
		t.Fatalf("nil error has no message")
	}
}

func TestErrorKindString(t *testing.T) {
	if KindMalformedInput.String() != "malformed_input" || ErrorKind(200).String() != "unknown" {
		t.Fatalf("unexpected kind names")
	}
}
