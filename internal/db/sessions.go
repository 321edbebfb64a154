package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ravenmail/internal/models"
)

// SessionStore persists server-side login sessions
type SessionStore struct {
	db *sqlx.DB
}

// Create starts a session for a user that expires after ttl
func (s *SessionStore) Create(ctx context.Context, userID, userEmail string, ttl time.Duration) (*models.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session requires a user id")
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserEmail: userEmail,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (id, user_id, user_email, expires_at, created_at)
		VALUES (:id, :user_id, :user_email, :expires_at, :created_at)
	`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Get returns a session by id, expired or not
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.db.GetContext(ctx, &session,
		`SELECT id, user_id, user_email, expires_at, created_at FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Delete ends a session
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions that expired before now
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
