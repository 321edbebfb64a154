package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ravenmail/internal/models"
)

// SubscriptionStore persists push subscriptions
type SubscriptionStore struct {
	db *sqlx.DB
}

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, user_agent, device_type,
	is_active, last_used, last_error, created_at, updated_at`

// Upsert stores a subscription. An existing (user, endpoint) row keeps its id and
// gets the new keys, is re-activated and has its last error cleared. Re-subscribing
// counts as activity, so last_used moves to now and the retention window restarts.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	if sub.UserID == "" || sub.Endpoint == "" {
		return nil, fmt.Errorf("subscription requires user id and endpoint")
	}
	if sub.P256dh == "" || sub.Auth == "" {
		return nil, fmt.Errorf("subscription requires p256dh and auth keys")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions
			(id, user_id, endpoint, p256dh, auth, user_agent, device_type, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		ON CONFLICT(user_id, endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			user_agent = excluded.user_agent,
			device_type = excluded.device_type,
			is_active = TRUE,
			last_used = excluded.updated_at,
			last_error = NULL,
			updated_at = excluded.updated_at
	`, uuid.NewString(), sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent, sub.DeviceType, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	var stored models.Subscription
	err = s.db.GetContext(ctx, &stored,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`,
		sub.UserID, sub.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to reload subscription: %w", err)
	}

	return &stored, nil
}

// Get returns a subscription by id
func (s *SubscriptionStore) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, `SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// ListActiveByUser returns the delivery targets of a user
func (s *SubscriptionStore) ListActiveByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.SelectContext(ctx, &subs,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ? AND is_active = TRUE ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return subs, nil
}

// ListByUser returns every subscription of a user, active or not
func (s *SubscriptionStore) ListByUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.SelectContext(ctx, &subs,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// ListAll returns every stored subscription
func (s *SubscriptionStore) ListAll(ctx context.Context) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.SelectContext(ctx, &subs,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// Update applies a partial update to a subscription
func (s *SubscriptionStore) Update(ctx context.Context, id string, upd models.SubscriptionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *upd.IsActive)
	}
	if upd.LastUsed != nil {
		sets = append(sets, "last_used = ?")
		args = append(args, upd.LastUsed.UTC())
	}
	if upd.LastError != nil {
		if *upd.LastError == "" {
			sets = append(sets, "last_error = NULL")
		} else {
			sets = append(sets, "last_error = ?")
			args = append(args, *upd.LastError)
		}
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a subscription
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByEndpoint removes a user's subscription for an endpoint
func (s *SubscriptionStore) DeleteByEndpoint(ctx context.Context, userID, endpoint string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
