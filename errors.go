package storeauth

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind classifies every failure the core reports to the UI layer.
type ErrorKind uint8

const (
	// KindUnknown is an unclassified failure.
	KindUnknown ErrorKind = iota
	// KindCancelled means the user dismissed an interactive flow.
	KindCancelled
	// KindPopupBlocked means the interactive flow could not be opened.
	KindPopupBlocked
	// KindNetwork covers transport failures and timeouts.
	KindNetwork
	// KindInvalidCredential is a rejected credential without a finer reason.
	KindInvalidCredential
	// KindNoAccount means no account exists for the identifier.
	KindNoAccount
	// KindWrongPassword means the account exists but the password is wrong.
	KindWrongPassword
	// KindMalformedInput means the identifier or password is not well formed.
	KindMalformedInput
	// KindAccountDisabled means the account exists but is disabled.
	KindAccountDisabled
	// KindConflictingCredential means the email is bound to another provider.
	KindConflictingCredential
	// KindRateLimited means the provider or backend throttled the attempt.
	KindRateLimited
	// KindBackendUnavailable means the backend was unreachable or answered garbage.
	KindBackendUnavailable
)

var (
	// ErrUnknown matches [KindUnknown].
	ErrUnknown = errors.New("authentication failed")
	// ErrCancelled matches [KindCancelled].
	ErrCancelled = errors.New("sign-in cancelled")
	// ErrPopupBlocked matches [KindPopupBlocked].
	ErrPopupBlocked = errors.New("sign-in popup blocked")
	// ErrNetwork matches [KindNetwork].
	ErrNetwork = errors.New("network error")
	// ErrInvalidCredential matches [KindInvalidCredential] and every finer credential kind.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrNoAccount matches [KindNoAccount].
	ErrNoAccount = errors.New("no account for identifier")
	// ErrWrongPassword matches [KindWrongPassword].
	ErrWrongPassword = errors.New("wrong password")
	// ErrMalformedInput matches [KindMalformedInput].
	ErrMalformedInput = errors.New("malformed credential input")
	// ErrAccountDisabled matches [KindAccountDisabled].
	ErrAccountDisabled = errors.New("account disabled")
	// ErrConflictingCredential matches [KindConflictingCredential].
	ErrConflictingCredential = errors.New("account exists with different credential")
	// ErrRateLimited matches [KindRateLimited].
	ErrRateLimited = errors.New("too many attempts")
	// ErrBackendUnavailable matches [KindBackendUnavailable].
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrClientNotReady is returned by a [Client] that was not built through [Builder.Build].
	ErrClientNotReady = errors.New("client not initialized")
	// ErrGateClosed is returned when starting a gate that was already closed.
	ErrGateClosed = errors.New("gate closed")
	// ErrGateStarted is returned when starting a gate twice.
	ErrGateStarted = errors.New("gate already started")
)

var kindSentinels = map[ErrorKind]error{
	KindUnknown:               ErrUnknown,
	KindCancelled:             ErrCancelled,
	KindPopupBlocked:          ErrPopupBlocked,
	KindNetwork:               ErrNetwork,
	KindInvalidCredential:     ErrInvalidCredential,
	KindNoAccount:             ErrNoAccount,
	KindWrongPassword:         ErrWrongPassword,
	KindMalformedInput:        ErrMalformedInput,
	KindAccountDisabled:       ErrAccountDisabled,
	KindConflictingCredential: ErrConflictingCredential,
	KindRateLimited:           ErrRateLimited,
	KindBackendUnavailable:    ErrBackendUnavailable,
}

var kindNames = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindCancelled:             "cancelled",
	KindPopupBlocked:          "popup_blocked",
	KindNetwork:               "network",
	KindInvalidCredential:     "invalid_credential",
	KindNoAccount:             "no_account",
	KindWrongPassword:         "wrong_password",
	KindMalformedInput:        "malformed_input",
	KindAccountDisabled:       "account_disabled",
	KindConflictingCredential: "conflicting_credential",
	KindRateLimited:           "rate_limited",
	KindBackendUnavailable:    "backend_unavailable",
}

// String returns the snake_case name used in logs and audit metadata.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

func (k ErrorKind) credential() bool {
	switch k {
	case KindInvalidCredential, KindNoAccount, KindWrongPassword, KindMalformedInput:
		return true
	}
	return false
}

// AuthError is the only error shape the core hands to the UI layer.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewAuthError builds an [AuthError] of the given kind.
func NewAuthError(kind ErrorKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: cause}
}

func (e *AuthError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the kind sentinel. Every credential kind also matches
// [ErrInvalidCredential].
func (e *AuthError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == kindSentinels[e.Kind] {
		return true
	}
	return target == ErrInvalidCredential && e.Kind.credential()
}

// KindOf returns the [ErrorKind] carried by err. Errors that are not an
// [AuthError] are classified the same way provider errors are.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ClassifyProviderError(err)
}

// ProviderError is a coded failure reported by an [IdentityProvider].
// Code follows the "auth/<reason>" convention.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

var providerCodeKinds = map[string]ErrorKind{
	"auth/popup-closed-by-user":                     KindCancelled,
	"auth/cancelled-popup-request":                  KindCancelled,
	"auth/user-cancelled":                           KindCancelled,
	"auth/popup-blocked":                            KindPopupBlocked,
	"auth/network-request-failed":                   KindNetwork,
	"auth/timeout":                                  KindNetwork,
	"auth/user-not-found":                           KindNoAccount,
	"auth/wrong-password":                           KindWrongPassword,
	"auth/invalid-credential":                       KindInvalidCredential,
	"auth/invalid-login-credentials":                KindInvalidCredential,
	"auth/invalid-email":                            KindMalformedInput,
	"auth/missing-password":                         KindMalformedInput,
	"auth/user-disabled":                            KindAccountDisabled,
	"auth/account-exists-with-different-credential": KindConflictingCredential,
	"auth/credential-already-in-use":                KindConflictingCredential,
	"auth/too-many-requests":                        KindRateLimited,
}

// ClassifyProviderError maps an identity-provider or transport error onto the
// core taxonomy.
func ClassifyProviderError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if kind, ok := providerCodeKinds[strings.ToLower(strings.TrimSpace(pe.Code))]; ok {
			return kind
		}
	}
	return KindUnknown
}

// AsAuthError converts any error into an [AuthError], keeping the cause.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	kind := ClassifyProviderError(err)
	return &AuthError{Kind: kind, Message: kindSentinels[kind].Error(), Err: err}
}

// UserMessage returns the text the UI should show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindCancelled:
		return "Sign-in was cancelled. Please try again."
	case KindPopupBlocked:
		return "The sign-in window was blocked. Allow pop-ups and try again."
	case KindNetwork:
		return "Network error. Check your connection and try again."
	case KindBackendUnavailable:
		return "The service is temporarily unavailable. Please try again in a moment."
	case KindNoAccount:
		return "No account found with this email. Please register first."
	case KindWrongPassword:
		return "Incorrect password. Please try again."
	case KindMalformedInput:
		return "Please enter a valid email address and password."
	case KindInvalidCredential:
		return "Invalid email or password."
	case KindAccountDisabled:
		return "This account has been disabled. Contact support."
	case KindConflictingCredential:
		return "An account already exists with this email using a different sign-in method."
	case KindRateLimited:
		return "Too many attempts. Please wait a moment and try again."
	default:
		return "Login failed. Please try again."
	}
}
