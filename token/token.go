// Package token issues and validates the short-lived signed credentials
// that bind a client to a server-tracked session. Verification checks the
// HMAC signature and consults a blacklist of explicitly revoked tokens, so
// forced logout works across devices even before expiry.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cognirehab/securekit/platform"
)

// DefaultLifetime is the signed token's validity window.
const DefaultLifetime = 15 * time.Minute

var (
	// ErrTokenInvalid indicates a malformed, mis-signed, or expired token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked indicates the token is on the blacklist.
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Blacklist records revoked tokens. Satisfied by backend.TokenBlacklistAPI.
type Blacklist interface {
	BlacklistToken(ctx context.Context, token string) error
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret    []byte
	lifetime  time.Duration
	blacklist Blacklist
	clock     platform.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifetime overrides the token validity window.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) { m.lifetime = d }
}

// WithClock substitutes the time source.
func WithClock(c platform.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a token manager signing with the given secret.
func NewManager(secret string, blacklist Blacklist, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("token signing secret must not be empty")
	}
	m := &Manager{
		secret:    []byte(secret),
		lifetime:  DefaultLifetime,
		blacklist: blacklist,
		clock:     platform.SystemClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create signs a token binding sessionID and userID.
func (m *Manager) Create(sessionID, userID string) (string, error) {
	now := m.clock.Now()
	claims := Claims{
		SessionID: sessionID,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates the token, then consults the blacklist.
// Blacklisted tokens are rejected even when their signature and expiry are
// still good.
func (m *Manager) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}

	revoked, err := m.blacklist.IsTokenBlacklisted(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("checking blacklist: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Invalidate puts the token on the blacklist.
func (m *Manager) Invalidate(ctx context.Context, tokenString string) error {
	if err := m.blacklist.BlacklistToken(ctx, tokenString); err != nil {
		return fmt.Errorf("blacklisting token: %w", err)
	}
	return nil
}

// Remaining reports how much lifetime the token has left at now, or zero
// for an unparsable token.
func (m *Manager) Remaining(tokenString string) time.Duration {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Sub(m.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}
