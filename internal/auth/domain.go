package auth

import "time"

// SessionRecord mirrors a row in user_sessions. Redis holds the live session;
// this table keeps login history.
type SessionRecord struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
}
