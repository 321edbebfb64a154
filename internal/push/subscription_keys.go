package push

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const authSecretSize = 16

// ErrInvalidKeys marks a subscription whose keys can never encrypt a message
var ErrInvalidKeys = errors.New("invalid subscription keys")

// ValidateKeys checks that p256dh is an uncompressed P-256 public key and
// auth a 16-byte secret, both base64 encoded
func ValidateKeys(p256dh, auth string) error {
	point, err := decodeKey(p256dh)
	if err != nil {
		return fmt.Errorf("%w: p256dh: %v", ErrInvalidKeys, err)
	}
	if _, err := ecdh.P256().NewPublicKey(point); err != nil {
		return fmt.Errorf("%w: p256dh is not a P-256 public key", ErrInvalidKeys)
	}

	secret, err := decodeKey(auth)
	if err != nil {
		return fmt.Errorf("%w: auth: %v", ErrInvalidKeys, err)
	}
	if len(secret) != authSecretSize {
		return fmt.Errorf("%w: auth must be %d bytes, got %d", ErrInvalidKeys, authSecretSize, len(secret))
	}
	return nil
}

// decodeKey accepts base64url as browsers send it, with or without padding,
// and the standard alphabet
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if s == "" {
		return nil, errors.New("empty")
	}
	if raw, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
