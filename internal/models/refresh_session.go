package models

import "time"

// RefreshSession is a persisted, rotating refresh credential owned by one user.
// SessionKey is the secret carried by the signed refresh cookie.
type RefreshSession struct {
	ID         int64     `json:"id"`
	SessionKey string    `json:"-"`
	UserID     int64     `json:"user"`
	ExpiresAt  time.Time `json:"expires_at"`
	UserAgent  string    `json:"-"`
	RemoteAddr string    `json:"remote_addr"`
	RemoteHost string    `json:"-"`
	CreatedAt  time.Time `json:"-"`
}

// IsExpired reports whether the session can no longer be used at now.
func (s *RefreshSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ClientMetadata is what the core records about the client on login and refresh.
type ClientMetadata struct {
	UserAgent  string
	RemoteAddr string
	RemoteHost string
}
