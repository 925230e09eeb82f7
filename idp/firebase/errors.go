package firebase

import (
	"strings"

	"github.com/brandmart/storeauth"
)

// REST error messages look like "TOO_MANY_ATTEMPTS_TRY_LATER : Access to this
// account has been temporarily disabled...". Only the leading code is mapped.
var restCodes = map[string]string{
	"EMAIL_NOT_FOUND":                  "auth/user-not-found",
	"INVALID_PASSWORD":                 "auth/wrong-password",
	"INVALID_LOGIN_CREDENTIALS":        "auth/invalid-credential",
	"INVALID_IDP_RESPONSE":             "auth/invalid-credential",
	"INVALID_EMAIL":                    "auth/invalid-email",
	"MISSING_PASSWORD":                 "auth/missing-password",
	"USER_DISABLED":                    "auth/user-disabled",
	"TOO_MANY_ATTEMPTS_TRY_LATER":      "auth/too-many-requests",
	"FEDERATED_USER_ID_ALREADY_LINKED": "auth/credential-already-in-use",
	"TOKEN_EXPIRED":                    "auth/user-token-expired",
	"INVALID_REFRESH_TOKEN":            "auth/invalid-user-token",
	"USER_NOT_FOUND":                   "auth/user-not-found",
}

func restError(message string) *storeauth.ProviderError {
	code := strings.TrimSpace(message)
	detail := ""
	if i := strings.Index(code, ":"); i >= 0 {
		detail = strings.TrimSpace(code[i+1:])
		code = strings.TrimSpace(code[:i])
	}
	if mapped, ok := restCodes[code]; ok {
		return &storeauth.ProviderError{Code: mapped, Message: detail}
	}
	return &storeauth.ProviderError{Code: "auth/internal-error", Message: message}
}

func providerError(code, message string) *storeauth.ProviderError {
	return &storeauth.ProviderError{Code: code, Message: message}
}
