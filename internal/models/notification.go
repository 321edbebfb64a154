package models

import "time"

// Notification log statuses
const (
	StatusPending        = "pending"
	StatusSent           = "sent"
	StatusPartialSuccess = "partial_success"
	StatusFailed         = "failed"
)

// NotificationLogEntry records one notification and its delivery outcome
type NotificationLogEntry struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	NotificationType string     `db:"notification_type" json:"notificationType"`
	Title            string     `db:"title" json:"title"`
	Body             string     `db:"body" json:"body"`
	Status           string     `db:"status" json:"status"`
	RecipientCount   int        `db:"recipient_count" json:"recipientCount"`
	SuccessCount     int        `db:"success_count" json:"successCount"`
	FailureCount     int        `db:"failure_count" json:"failureCount"`
	DeliveredAt      *time.Time `db:"delivered_at" json:"deliveredAt,omitempty"`
	Error            *string    `db:"error" json:"error,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
}

// NotificationLogUpdate moves a pending entry to its terminal state
type NotificationLogUpdate struct {
	Status       string
	SuccessCount int
	FailureCount int
	DeliveredAt  *time.Time
	Error        *string
}

// DeliveryStats summarizes a user's notification log over a time window
type DeliveryStats struct {
	Total          int     `json:"total"`
	Sent           int     `json:"sent"`
	PartialSuccess int     `json:"partialSuccess"`
	Failed         int     `json:"failed"`
	Pending        int     `json:"pending"`
	Deliveries     int     `json:"deliveries"`
	Failures       int     `json:"failures"`
	SuccessRate    float64 `json:"successRate"`
}
