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

// AccountStore resolves mail account ownership
type AccountStore struct {
	db *sqlx.DB
}

// Create registers a mail account for a user
func (s *AccountStore) Create(ctx context.Context, userID, email, provider string) (*models.Account, error) {
	if userID == "" || email == "" {
		return nil, fmt.Errorf("account requires user id and email")
	}
	if provider == "" {
		provider = "imap"
	}

	account := &models.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		Provider:  provider,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO mail_accounts (id, user_id, email, provider, created_at)
		VALUES (:id, :user_id, :email, :provider, :created_at)
	`, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// AccountIDsFor returns the ids of every account the user owns
func (s *AccountStore) AccountIDsFor(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM mail_accounts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return ids, nil
}

// OwnerOf returns the user owning an account
func (s *AccountStore) OwnerOf(ctx context.Context, accountID string) (string, error) {
	var userID string
	err := s.db.GetContext(ctx, &userID, `SELECT user_id FROM mail_accounts WHERE id = ?`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve account owner: %w", err)
	}
	return userID, nil
}

// Delete removes an account
func (s *AccountStore) Delete(ctx context.Context, accountID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mail_accounts WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
