package push

import (
	"errors"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"ravenmail/internal/conf"
	"ravenmail/internal/logging"
)

func TestNewKeyManager_Configured(t *testing.T) {
	cfg := conf.DefaultConfig().Push
	cfg.VAPIDPublicKey = " configured-public "
	cfg.VAPIDPrivateKey = "configured-private"

	km, err := NewKeyManager(cfg, true, logging.Nop())
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	if km.PublicKey() != "configured-public" {
		t.Errorf("Expected trimmed configured key, got %q", km.PublicKey())
	}
	if !km.IsInitialized() {
		t.Error("Expected initialized manager")
	}
	if km.Ephemeral() {
		t.Error("Configured keys should not be ephemeral")
	}
}

func TestNewKeyManager_ProductionRequiresKeys(t *testing.T) {
	cfg := conf.DefaultConfig().Push

	km, err := NewKeyManager(cfg, true, logging.Nop())
	if !errors.Is(err, ErrMissingVAPIDKeys) {
		t.Fatalf("Expected ErrMissingVAPIDKeys, got %v", err)
	}
	if km.IsInitialized() {
		t.Error("Nil manager must not report initialized")
	}
	if km.PublicKey() != "" {
		t.Error("Nil manager must not expose a public key")
	}
}

func TestNewKeyManager_DevelopmentGeneratesKeys(t *testing.T) {
	cfg := conf.DefaultConfig().Push

	km, err := NewKeyManager(cfg, false, logging.Nop())
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	if !km.IsInitialized() || !km.Ephemeral() {
		t.Error("Expected an initialized ephemeral pair")
	}
	if km.PublicKey() == "" {
		t.Error("Expected a generated public key")
	}

	other, err := NewKeyManager(cfg, false, logging.Nop())
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	if other.PublicKey() == km.PublicKey() {
		t.Error("Each generated pair should be distinct")
	}
}

func TestKeyManagerOptions(t *testing.T) {
	cfg := conf.DefaultConfig().Push
	cfg.Subject = "mailto:ops@example.com"

	km, err := NewKeyManager(cfg, false, logging.Nop())
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}

	opts := km.Options(90*time.Second, webpush.UrgencyHigh, "topic", nil)
	if opts.TTL != 90 {
		t.Errorf("Expected TTL 90, got %d", opts.TTL)
	}
	if opts.Urgency != webpush.UrgencyHigh {
		t.Errorf("Expected high urgency, got %s", opts.Urgency)
	}
	if opts.Subscriber != "ops@example.com" {
		t.Errorf("Expected subscriber without scheme, got %s", opts.Subscriber)
	}
	if opts.VAPIDPublicKey != km.PublicKey() || opts.VAPIDPrivateKey == "" {
		t.Error("Expected options to carry the key pair")
	}
}

func TestSubscriberFromSubject(t *testing.T) {
	tests := map[string]string{
		"mailto:ops@example.com": "ops@example.com",
		"MAILTO:ops@example.com": "ops@example.com",
		"https://example.com":    "https://example.com",
		"ops@example.com":        "ops@example.com",
	}
	for in, want := range tests {
		if got := subscriberFromSubject(in); got != want {
			t.Errorf("subscriberFromSubject(%q) = %q, want %q", in, got, want)
		}
	}
}
