package session

import "time"

// BrowserSession is a persisted browser login. The signed cookie token
// carries its ID; the row is the source of truth for expiry and logout.
type BrowserSession struct {
	ID         string     `db:"id"`
	UserID     int64      `db:"user_id"`
	CreatedAt  time.Time  `db:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	FinishedAt *time.Time `db:"finished_at"`

	// UserVersion is the user's version when the token was issued. It is
	// carried by the token, not stored.
	UserVersion int64 `db:"-"`
}

// Active reports whether the session can still authenticate requests.
func (s *BrowserSession) Active(now time.Time) bool {
	return s.FinishedAt == nil && now.Before(s.ExpiresAt)
}
