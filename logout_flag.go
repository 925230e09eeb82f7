package storeauth

import "sync/atomic"

// LogoutFlag records that a user-initiated sign-out is in progress. The same
// instance is shared by the logout flow and the [Gate] so the gate can skip
// the backend check for the "signed out" notification the sign-out triggers.
type LogoutFlag struct {
	v atomic.Bool
}

// NewLogoutFlag returns a cleared flag.
func NewLogoutFlag() *LogoutFlag {
	return &LogoutFlag{}
}

// Set updates the flag.
func (f *LogoutFlag) Set(loggingOut bool) {
	if f == nil {
		return
	}
	f.v.Store(loggingOut)
}

// IsLoggingOut reports whether a sign-out is in progress.
func (f *LogoutFlag) IsLoggingOut() bool {
	if f == nil {
		return false
	}
	return f.v.Load()
}
