package models

import "time"

// Session is a server-side login session; the browser only holds a signed reference to it
type Session struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	UserEmail string    `db:"user_email"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired reports whether the session is no longer valid at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Account is a mail account (IMAP or EWS) owned by a user
type Account struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Email     string    `db:"email" json:"email"`
	Provider  string    `db:"provider" json:"provider"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
