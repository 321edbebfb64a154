package push

import (
	"errors"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"ravenmail/internal/conf"
)

// ErrMissingVAPIDKeys is returned in production when no key pair is configured
var ErrMissingVAPIDKeys = errors.New("VAPID key pair is required in production")

// KeyManager owns the VAPID key pair that signs every outbound push message.
// It is immutable after construction.
type KeyManager struct {
	publicKey  string
	privateKey string
	subscriber string
	ephemeral  bool
}

// NewKeyManager loads the key pair from configuration. Outside production a
// missing pair is replaced with a freshly generated one.
func NewKeyManager(cfg conf.PushConfig, production bool, log *zap.SugaredLogger) (*KeyManager, error) {
	km := &KeyManager{
		publicKey:  strings.TrimSpace(cfg.VAPIDPublicKey),
		privateKey: strings.TrimSpace(cfg.VAPIDPrivateKey),
		subscriber: subscriberFromSubject(cfg.Subject),
	}

	if km.publicKey != "" && km.privateKey != "" {
		log.Infof("Loaded VAPID key pair, public key %s", km.publicKey)
		return km, nil
	}

	if production {
		return nil, ErrMissingVAPIDKeys
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, err
	}
	km.publicKey = publicKey
	km.privateKey = privateKey
	km.ephemeral = true

	log.Warnf("No VAPID keys configured, generated an ephemeral pair; push subscriptions will not survive a restart")
	log.Infof("Ephemeral VAPID public key: %s", publicKey)
	return km, nil
}

// subscriberFromSubject strips the mailto: scheme, which the push library adds
// back for anything that is not an https URL
func subscriberFromSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if len(subject) >= 7 && strings.EqualFold(subject[:7], "mailto:") {
		return subject[7:]
	}
	return subject
}

// PublicKey returns the application server key clients subscribe with
func (k *KeyManager) PublicKey() string {
	if k == nil {
		return ""
	}
	return k.publicKey
}

// IsInitialized reports whether the manager can sign messages
func (k *KeyManager) IsInitialized() bool {
	return k != nil && k.publicKey != "" && k.privateKey != ""
}

// Ephemeral reports whether the pair was generated at startup
func (k *KeyManager) Ephemeral() bool {
	return k != nil && k.ephemeral
}

// Options returns signing options for one send
func (k *KeyManager) Options(ttl time.Duration, urgency webpush.Urgency, topic string, client webpush.HTTPClient) *webpush.Options {
	return &webpush.Options{
		HTTPClient:      client,
		Subscriber:      k.subscriber,
		Topic:           topic,
		TTL:             int(ttl / time.Second),
		Urgency:         urgency,
		VAPIDPublicKey:  k.publicKey,
		VAPIDPrivateKey: k.privateKey,
	}
}
