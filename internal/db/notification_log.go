package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ravenmail/internal/models"
)

// NotificationLog is the append-then-update log of notification attempts
type NotificationLog struct {
	db *sqlx.DB
}

const notificationColumns = `id, user_id, notification_type, title, body, status, recipient_count,
	success_count, failure_count, delivered_at, error, created_at`

// Create appends a pending entry and fills in its id and creation time
func (l *NotificationLog) Create(ctx context.Context, entry *models.NotificationLogEntry) error {
	entry.ID = uuid.NewString()
	entry.Status = models.StatusPending
	entry.CreatedAt = time.Now().UTC()

	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO notification_logs
			(id, user_id, notification_type, title, body, status, recipient_count, created_at)
		VALUES (:id, :user_id, :notification_type, :title, :body, :status, :recipient_count, :created_at)
	`, entry)
	if err != nil {
		return fmt.Errorf("failed to create notification log entry: %w", err)
	}
	return nil
}

// Update finalizes a pending entry. An entry only ever leaves pending once.
func (l *NotificationLog) Update(ctx context.Context, id string, upd models.NotificationLogUpdate) error {
	var deliveredAt any
	if upd.DeliveredAt != nil {
		deliveredAt = upd.DeliveredAt.UTC()
	}
	var errText any
	if upd.Error != nil && *upd.Error != "" {
		errText = *upd.Error
	}

	result, err := l.db.ExecContext(ctx, `
		UPDATE notification_logs
		SET status = ?, success_count = ?, failure_count = ?, delivered_at = ?, error = ?
		WHERE id = ? AND status = ?
	`, upd.Status, upd.SuccessCount, upd.FailureCount, deliveredAt, errText, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update notification log entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("notification log entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns a single entry
func (l *NotificationLog) Get(ctx context.Context, id string) (*models.NotificationLogEntry, error) {
	var entries []models.NotificationLogEntry
	err := l.db.SelectContext(ctx, &entries,
		`SELECT `+notificationColumns+` FROM notification_logs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get notification log entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// ListByUser returns a user's entries created at or after since, newest first
func (l *NotificationLog) ListByUser(ctx context.Context, userID string, since time.Time) ([]models.NotificationLogEntry, error) {
	var entries []models.NotificationLogEntry
	err := l.db.SelectContext(ctx, &entries, `
		SELECT `+notificationColumns+` FROM notification_logs
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list notification log: %w", err)
	}
	return entries, nil
}

// Stats summarizes a user's deliveries since the given time
func (l *NotificationLog) Stats(ctx context.Context, userID string, since time.Time) (*models.DeliveryStats, error) {
	entries, err := l.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	stats := &models.DeliveryStats{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case models.StatusSent:
			stats.Sent++
		case models.StatusPartialSuccess:
			stats.PartialSuccess++
		case models.StatusFailed:
			stats.Failed++
		case models.StatusPending:
			stats.Pending++
		}
		stats.Deliveries += e.SuccessCount
		stats.Failures += e.FailureCount
	}

	if attempts := stats.Deliveries + stats.Failures; attempts > 0 {
		stats.SuccessRate = float64(stats.Deliveries) / float64(attempts)
	}

	return stats, nil
}

// ListBefore returns up to limit finalized entries created before cutoff, oldest first
func (l *NotificationLog) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.NotificationLogEntry, error) {
	var entries []models.NotificationLogEntry
	err := l.db.SelectContext(ctx, &entries, `
		SELECT `+notificationColumns+` FROM notification_logs
		WHERE created_at < ? AND status != ?
		ORDER BY created_at
		LIMIT ?
	`, cutoff.UTC(), models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification log: %w", err)
	}
	return entries, nil
}

// DeleteByIDs removes archived entries
func (l *NotificationLog) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM notification_logs WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	result, err := l.db.ExecContext(ctx, l.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notification log entries: %w", err)
	}
	return result.RowsAffected()
}
