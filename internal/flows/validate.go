package flows

import (
	"errors"
	"strings"
)

var (
	// ErrBlankEmail rejects an empty identifier.
	ErrBlankEmail = errors.New("email is required")
	// ErrBlankPassword rejects an empty password.
	ErrBlankPassword = errors.New("password is required")
	// ErrInvalidEmail rejects an identifier that cannot be an email address.
	ErrInvalidEmail = errors.New("email is not valid")
)

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateCredentials checks password-login input before any network call.
func ValidateCredentials(email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrBlankEmail
	}
	if strings.TrimSpace(password) == "" {
		return ErrBlankPassword
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") || strings.Count(email, "@") != 1 {
		return ErrInvalidEmail
	}
	return nil
}
