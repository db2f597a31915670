package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrInvalidCredentials is returned for a wrong secret and when login is disabled.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

const DefaultTTL = 24 * time.Hour

// Gate exchanges the shared moderator secret for session tokens.
type Gate struct {
	secret []byte
	store  Store
	ttl    time.Duration
}

// NewGate builds a gate. An empty secret leaves login disabled.
func NewGate(secret string, store Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if secret == "" {
		slog.Warn("NewGate: moderator password is empty, login is disabled")
	}
	return &Gate{secret: []byte(secret), store: store, ttl: ttl}
}

func (g *Gate) TTL() time.Duration {
	return g.ttl
}

func (g *Gate) Enabled() bool {
	return len(g.secret) > 0
}

// Login returns a fresh token when password matches the secret.
func (g *Gate) Login(ctx context.Context, password string) (string, error) {
	if !g.Enabled() || subtle.ConstantTimeCompare([]byte(password), g.secret) != 1 {
		return "", ErrInvalidCredentials
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := g.store.Create(ctx, token, g.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Authorize returns ErrUnauthorized for empty, unknown or expired tokens.
func (g *Gate) Authorize(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	ok, err := g.store.Validate(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (g *Gate) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return g.store.Revoke(ctx, token)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
