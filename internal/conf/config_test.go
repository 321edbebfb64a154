package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config validation failed: %v", err)
	}

	if cfg.IsProduction() {
		t.Error("Default config should not be production")
	}

	if cfg.Hub.HandshakeTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5s handshake timeout, got %v", cfg.Hub.HandshakeTimeoutDuration())
	}

	if cfg.Push.Retention() != 30*24*time.Hour {
		t.Errorf("Expected 30 day retention, got %v", cfg.Push.Retention())
	}

	if cfg.Hub.HeartbeatDuration() != 0 {
		t.Error("Heartbeat should be disabled by default")
	}
}

func TestLoadConfig(t *testing.T) {
	content := `
environment: production
http:
  address: "127.0.0.1:9090"
  allowed_origins:
    - "https://mail.example.com"
database:
  path: "/tmp/raven-test"
session:
  cookie_name: "sid"
  secret: "0123456789abcdef0123456789abcdef"
hub:
  handshake_timeout: 3
  heartbeat_interval: 30
  send_queue_size: 16
push:
  vapid_public_key: "pub"
  vapid_private_key: "priv"
  subject: "mailto:ops@example.com"
  ttl: 3600
  urgency: "high"
  max_concurrency: 4
  request_timeout: 10
  probe_timeout: 2
  probe_delay_ms: 50
  retention_days: 14
  cleanup_interval: 60
  skip_when_connected: true
logging:
  level: "debug"
  format: "json"
`
	path := filepath.Join(t.TempDir(), "notify.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !cfg.IsProduction() {
		t.Error("Expected production environment")
	}
	if cfg.HTTP.Address != "127.0.0.1:9090" {
		t.Errorf("Expected address 127.0.0.1:9090, got %s", cfg.HTTP.Address)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 {
		t.Errorf("Expected 1 allowed origin, got %d", len(cfg.HTTP.AllowedOrigins))
	}
	if cfg.Session.CookieName != "sid" {
		t.Errorf("Expected cookie name sid, got %s", cfg.Session.CookieName)
	}
	if cfg.Hub.HeartbeatDuration() != 30*time.Second {
		t.Errorf("Expected 30s heartbeat, got %v", cfg.Hub.HeartbeatDuration())
	}
	if cfg.Push.Urgency != "high" {
		t.Errorf("Expected urgency high, got %s", cfg.Push.Urgency)
	}
	if cfg.Push.ProbeDelayDuration() != 50*time.Millisecond {
		t.Errorf("Expected 50ms probe delay, got %v", cfg.Push.ProbeDelayDuration())
	}
	if !cfg.Push.SkipWhenConnected {
		t.Error("Expected skip_when_connected to be true")
	}
	// Unset sections keep their defaults
	if cfg.Events.Channel != "raven:events" {
		t.Errorf("Expected default events channel, got %s", cfg.Events.Channel)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("push: [unclosed"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VAPID_PUBLIC_KEY", "env-public")
	t.Setenv("VAPID_PRIVATE_KEY", "env-private")
	t.Setenv("SESSION_SECRET", "env-secret")
	t.Setenv("REDIS_URL", "")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Push.VAPIDPublicKey != "env-public" {
		t.Errorf("Expected env public key, got %s", cfg.Push.VAPIDPublicKey)
	}
	if cfg.Push.VAPIDPrivateKey != "env-private" {
		t.Errorf("Expected env private key, got %s", cfg.Push.VAPIDPrivateKey)
	}
	if cfg.Session.Secret != "env-secret" {
		t.Errorf("Expected env session secret, got %s", cfg.Session.Secret)
	}
	if cfg.Events.RedisURL != "" {
		t.Errorf("Empty env value should not override, got %s", cfg.Events.RedisURL)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{
			name:      "Valid config",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "Unknown environment",
			modify:    func(c *Config) { c.Environment = "staging" },
			expectErr: true,
		},
		{
			name: "Production without session secret",
			modify: func(c *Config) {
				c.Environment = EnvProduction
				c.Session.Secret = ""
			},
			expectErr: true,
		},
		{
			name:      "Zero handshake timeout",
			modify:    func(c *Config) { c.Hub.HandshakeTimeout = 0 },
			expectErr: true,
		},
		{
			name:      "Negative heartbeat",
			modify:    func(c *Config) { c.Hub.HeartbeatInterval = -1 },
			expectErr: true,
		},
		{
			name:      "Invalid urgency",
			modify:    func(c *Config) { c.Push.Urgency = "urgent" },
			expectErr: true,
		},
		{
			name:      "Zero concurrency",
			modify:    func(c *Config) { c.Push.MaxConcurrency = 0 },
			expectErr: true,
		},
		{
			name:      "Only public VAPID key",
			modify:    func(c *Config) { c.Push.VAPIDPublicKey = "pub" },
			expectErr: true,
		},
		{
			name:      "Archive without bucket",
			modify:    func(c *Config) { c.Archive.Enabled = true },
			expectErr: true,
		},
		{
			name: "Redis without channel",
			modify: func(c *Config) {
				c.Events.RedisURL = "redis://localhost:6379/0"
				c.Events.Channel = ""
			},
			expectErr: true,
		},
		{
			name:      "Invalid log level",
			modify:    func(c *Config) { c.Logging.Level = "trace" },
			expectErr: true,
		},
		{
			name:      "Invalid log format",
			modify:    func(c *Config) { c.Logging.Format = "xml" },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}
