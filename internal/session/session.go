// Package session resolves browser session cookies to authenticated users.
//
// The cookie carries a signed token naming a server-side session row. Identity
// always comes from that row; nothing else the client sends is trusted.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ravenmail/internal/models"
)

// ErrNoSession covers every way a cookie can fail to name a live session:
// missing, malformed, badly signed, expired, or unknown to the store
var ErrNoSession = errors.New("no valid session")

// Store looks up server-side sessions
type Store interface {
	Get(ctx context.Context, id string) (*models.Session, error)
}

// Manager issues and resolves session cookies
type Manager struct {
	store      Store
	secret     []byte
	cookieName string
	now        func() time.Time
}

// NewManager creates a session manager signing cookies with secret
func NewManager(store Store, cookieName, secret string) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cookieName == "" {
		return nil, fmt.Errorf("cookie name is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	return &Manager{
		store:      store,
		secret:     []byte(secret),
		cookieName: cookieName,
		now:        time.Now,
	}, nil
}

// CookieName returns the name of the session cookie
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Issue signs a cookie value referencing the session
func (m *Manager) Issue(session *models.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        session.ID,
		IssuedAt:  jwt.NewNumericDate(m.now()),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Cookie builds the Set-Cookie value for a signed session token
func (m *Manager) Cookie(value string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Resolve verifies a raw cookie value and loads the session it names
func (m *Manager) Resolve(ctx context.Context, raw string) (*models.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoSession
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || claims.ID == "" {
		return nil, ErrNoSession
	}

	session, err := m.store.Get(ctx, claims.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrNoSession
	}
	if session.Expired(m.now()) || session.UserID == "" {
		return nil, ErrNoSession
	}

	return &models.Identity{UserID: session.UserID, UserEmail: session.UserEmail}, nil
}

// ResolveRequest resolves the session cookie carried by an HTTP request
func (m *Manager) ResolveRequest(r *http.Request) (*models.Identity, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	return m.Resolve(r.Context(), cookie.Value)
}
