package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

const databaseFile = "notify.db"

// DBManager owns the notification database connection and the stores built on it
type DBManager struct {
	basePath string
	db       *sqlx.DB

	subscriptions *SubscriptionStore
	notifications *NotificationLog
	sessions      *SessionStore
	accounts      *AccountStore
}

// NewDBManager creates a new database manager
func NewDBManager(basePath string) (*DBManager, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	manager := &DBManager{basePath: basePath}

	if err := manager.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	manager.subscriptions = &SubscriptionStore{db: manager.db}
	manager.notifications = &NotificationLog{db: manager.db}
	manager.sessions = &SessionStore{db: manager.db}
	manager.accounts = &AccountStore{db: manager.db}

	return manager, nil
}

// initDB opens the database and creates the schema
func (m *DBManager) initDB() error {
	path := filepath.Join(m.basePath, databaseFile)

	// _busy_timeout lets concurrent writers from parallel push sends wait instead of failing
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return err
	}

	// Enable foreign key constraints
	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return err
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	m.db = db
	return nil
}

// GetDB returns the underlying connection
func (m *DBManager) GetDB() *sqlx.DB {
	return m.db
}

// Subscriptions returns the push subscription store
func (m *DBManager) Subscriptions() *SubscriptionStore {
	return m.subscriptions
}

// Notifications returns the notification log
func (m *DBManager) Notifications() *NotificationLog {
	return m.notifications
}

// Sessions returns the session store
func (m *DBManager) Sessions() *SessionStore {
	return m.sessions
}

// Accounts returns the mail account store
func (m *DBManager) Accounts() *AccountStore {
	return m.accounts
}

// Close closes the database connection
func (m *DBManager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
