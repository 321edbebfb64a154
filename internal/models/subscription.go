package models

import "time"

// Subscription is a browser or device push endpoint registered by a user
type Subscription struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"userId"`
	Endpoint   string     `db:"endpoint" json:"endpoint"`
	P256dh     string     `db:"p256dh" json:"-"`
	Auth       string     `db:"auth" json:"-"`
	UserAgent  string     `db:"user_agent" json:"userAgent,omitempty"`
	DeviceType string     `db:"device_type" json:"deviceType,omitempty"`
	IsActive   bool       `db:"is_active" json:"isActive"`
	LastUsed   *time.Time `db:"last_used" json:"lastUsed,omitempty"`
	LastError  *string    `db:"last_error" json:"lastError,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// LastActivity returns the last successful delivery time, or the creation
// time for a subscription that has never been used
func (s *Subscription) LastActivity() time.Time {
	if s.LastUsed != nil {
		return *s.LastUsed
	}
	return s.CreatedAt
}

// SubscriptionUpdate is a partial update; nil fields are left unchanged
type SubscriptionUpdate struct {
	IsActive  *bool
	LastUsed  *time.Time
	LastError *string
}
