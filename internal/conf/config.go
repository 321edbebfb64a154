package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds the notification server configuration
type Config struct {
	Environment string         `yaml:"environment"`
	HTTP        HTTPConfig     `yaml:"http"`
	Database    DatabaseConfig `yaml:"database"`
	Session     SessionConfig  `yaml:"session"`
	Hub         HubConfig      `yaml:"hub"`
	Push        PushConfig     `yaml:"push"`
	Events      EventsConfig   `yaml:"events"`
	Archive     ArchiveConfig  `yaml:"archive"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds the HTTP listener configuration
type HTTPConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout int      `yaml:"shutdown_timeout"` // Seconds to wait for in-flight requests
	AllowedOrigins  []string `yaml:"allowed_origins"`  // CORS and websocket origins, empty allows any
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"` // Directory holding notify.db
}

// SessionConfig holds the session cookie configuration
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	Secret     string `yaml:"secret"` // HMAC secret for signed session cookies
}

// HubConfig holds live connection hub configuration
type HubConfig struct {
	HandshakeTimeout  int `yaml:"handshake_timeout"`  // Seconds allowed for session and account lookups
	HeartbeatInterval int `yaml:"heartbeat_interval"` // Seconds between server heartbeats, 0 disables
	SendQueueSize     int `yaml:"send_queue_size"`    // Outbound frames buffered per connection
}

// PushConfig holds web push configuration
type PushConfig struct {
	VAPIDPublicKey    string `yaml:"vapid_public_key"`
	VAPIDPrivateKey   string `yaml:"vapid_private_key"`
	Subject           string `yaml:"subject"`            // mailto: or https: contact for the push service
	TTL               int    `yaml:"ttl"`                // Seconds a push service keeps an undelivered message
	Urgency           string `yaml:"urgency"`            // very-low, low, normal, high
	MaxConcurrency    int    `yaml:"max_concurrency"`    // Parallel sends per notification
	RequestTimeout    int    `yaml:"request_timeout"`    // Seconds per push service request
	ProbeTimeout      int    `yaml:"probe_timeout"`      // Seconds per cleanup probe
	ProbeDelay        int    `yaml:"probe_delay_ms"`     // Milliseconds between cleanup probes
	RetentionDays     int    `yaml:"retention_days"`     // Unused subscriptions older than this are deactivated
	CleanupInterval   int    `yaml:"cleanup_interval"`   // Minutes between cleanup passes
	SkipWhenConnected bool   `yaml:"skip_when_connected"` // Skip push for users with a live connection
	Icon              string `yaml:"icon"`
	Badge             string `yaml:"badge"`
}

// EventsConfig holds event bus configuration
type EventsConfig struct {
	RedisURL    string `yaml:"redis_url"` // Empty keeps the bus in-process
	Channel     string `yaml:"channel"`
	BufferSize  int    `yaml:"buffer_size"`  // Events buffered per subscriber
	IngestToken string `yaml:"ingest_token"` // Bearer token for POST /internal/events, empty disables the route
}

// ArchiveConfig holds notification log archive configuration
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RetentionDays   int    `yaml:"retention_days"` // Log entries older than this are archived
	Interval        int    `yaml:"interval"`       // Hours between archive runs
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // S3-compatible endpoint, empty for AWS
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // log level: debug, info, warn, error
	Format string `yaml:"format"` // log format: text, json
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		HTTP: HTTPConfig{
			Address:         "0.0.0.0:8080",
			ShutdownTimeout: 15,
			AllowedOrigins:  []string{},
		},
		Database: DatabaseConfig{
			Path: "/app/data/databases",
		},
		Session: SessionConfig{
			CookieName: "raven_session",
		},
		Hub: HubConfig{
			HandshakeTimeout:  5,
			HeartbeatInterval: 0,
			SendQueueSize:     64,
		},
		Push: PushConfig{
			Subject:         "mailto:postmaster@localhost",
			TTL:             86400, // 24 hours
			Urgency:         "normal",
			MaxConcurrency:  10,
			RequestTimeout:  30,
			ProbeTimeout:    5,
			ProbeDelay:      100,
			RetentionDays:   30,
			CleanupInterval: 1440, // daily
			Icon:            "/icons/icon-192.png",
			Badge:           "/icons/badge-72.png",
		},
		Events: EventsConfig{
			Channel:    "raven:events",
			BufferSize: 256,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      24,
			Prefix:        "notification-logs",
			Region:        "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides secrets and deployment settings from the environment
func (c *Config) ApplyEnv() {
	overrides := map[string]*string{
		"RAVEN_ENV":           &c.Environment,
		"RAVEN_HTTP_ADDR":     &c.HTTP.Address,
		"SESSION_SECRET":      &c.Session.Secret,
		"VAPID_PUBLIC_KEY":    &c.Push.VAPIDPublicKey,
		"VAPID_PRIVATE_KEY":   &c.Push.VAPIDPrivateKey,
		"VAPID_SUBJECT":       &c.Push.Subject,
		"REDIS_URL":           &c.Events.RedisURL,
		"EVENTS_INGEST_TOKEN": &c.Events.IngestToken,
		"S3_ACCESS_KEY_ID":    &c.Archive.AccessKeyID,
		"S3_SECRET_KEY":       &c.Archive.SecretAccessKey,
	}
	for name, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*field = v
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.HTTP.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie_name cannot be empty")
	}
	if c.IsProduction() && len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret must be at least 32 bytes in production")
	}

	if c.Hub.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}
	if c.Hub.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat_interval cannot be negative")
	}
	if c.Hub.SendQueueSize <= 0 {
		return fmt.Errorf("send_queue_size must be positive")
	}

	validUrgency := map[string]bool{"very-low": true, "low": true, "normal": true, "high": true}
	if !validUrgency[c.Push.Urgency] {
		return fmt.Errorf("invalid push urgency: %s", c.Push.Urgency)
	}
	if c.Push.TTL <= 0 {
		return fmt.Errorf("push ttl must be positive")
	}
	if c.Push.MaxConcurrency <= 0 {
		return fmt.Errorf("push max_concurrency must be positive")
	}
	if c.Push.RequestTimeout <= 0 || c.Push.ProbeTimeout <= 0 {
		return fmt.Errorf("push request_timeout and probe_timeout must be positive")
	}
	if c.Push.ProbeDelay < 0 {
		return fmt.Errorf("push probe_delay_ms cannot be negative")
	}
	if c.Push.RetentionDays <= 0 {
		return fmt.Errorf("push retention_days must be positive")
	}
	if c.Push.CleanupInterval <= 0 {
		return fmt.Errorf("push cleanup_interval must be positive")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("vapid_public_key and vapid_private_key must be set together")
	}

	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events buffer_size must be positive")
	}
	if c.Events.RedisURL != "" && c.Events.Channel == "" {
		return fmt.Errorf("events channel is required when redis_url is set")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive bucket is required when archive is enabled")
		}
		if c.Archive.RetentionDays <= 0 || c.Archive.Interval <= 0 {
			return fmt.Errorf("archive retention_days and interval must be positive")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// IsProduction reports whether the server runs in hardened mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// HandshakeTimeoutDuration returns the hub handshake timeout
func (h HubConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(h.HandshakeTimeout) * time.Second
}

// HeartbeatDuration returns the heartbeat interval, zero when disabled
func (h HubConfig) HeartbeatDuration() time.Duration {
	return time.Duration(h.HeartbeatInterval) * time.Second
}

func (p PushConfig) TTLDuration() time.Duration {
	return time.Duration(p.TTL) * time.Second
}

func (p PushConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

func (p PushConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(p.ProbeTimeout) * time.Second
}

func (p PushConfig) ProbeDelayDuration() time.Duration {
	return time.Duration(p.ProbeDelay) * time.Millisecond
}

func (p PushConfig) Retention() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

func (p PushConfig) CleanupIntervalDuration() time.Duration {
	return time.Duration(p.CleanupInterval) * time.Minute
}

func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

func (a ArchiveConfig) IntervalDuration() time.Duration {
	return time.Duration(a.Interval) * time.Hour
}
