package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

func createSchema(db *sqlx.DB) error {
	if err := createSessionsTable(db); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	if err := createMailAccountsTable(db); err != nil {
		return fmt.Errorf("failed to create mail_accounts table: %w", err)
	}

	if err := createPushSubscriptionsTable(db); err != nil {
		return fmt.Errorf("failed to create push_subscriptions table: %w", err)
	}

	if err := createNotificationLogsTable(db); err != nil {
		return fmt.Errorf("failed to create notification_logs table: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func createSessionsTable(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_email TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

func createMailAccountsTable(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS mail_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT 'imap',
		created_at DATETIME NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// push_subscriptions keeps one row per (user, endpoint); re-subscribing updates it
func createPushSubscriptionsTable(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS push_subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used DATETIME,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(user_id, endpoint)
	);
	`
	_, err := db.Exec(schema)
	return err
}

func createNotificationLogsTable(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notification_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		recipient_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		delivered_at DATETIME,
		error TEXT,
		created_at DATETIME NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

func createIndexes(db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_mail_accounts_user ON mail_accounts(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user_active ON push_subscriptions(user_id, is_active)",
		"CREATE INDEX IF NOT EXISTS idx_notification_logs_user_created ON notification_logs(user_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_notification_logs_created ON notification_logs(created_at)",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
