package session

// Session is one registered backend session.
type Session struct {
	SessionID string
	UserID    string
	Role      string

	CreatedAt int64
	ExpiresAt int64
}
