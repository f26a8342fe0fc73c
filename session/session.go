// Package session manages the server-tracked session records backing
// issued tokens: creation, validity checks, activity updates, and explicit
// revocation.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cognirehab/securekit/backend"
	"github.com/cognirehab/securekit/platform"
	"github.com/cognirehab/securekit/token"
)

const (
	// Expiry is the session validity window set at creation.
	Expiry = 24 * time.Hour
	// MaxInactivity is how long a session may idle before it stops
	// validating, independent of its expiry.
	MaxInactivity = 24 * time.Hour
)

// Manager couples session rows with their signed tokens.
type Manager struct {
	rows   backend.SessionRowAPI
	tokens *token.Manager
	clock  platform.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the time source.
func WithClock(c platform.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a session manager over the backend's session rows.
func NewManager(rows backend.SessionRowAPI, tokens *token.Manager, opts ...Option) *Manager {
	m := &Manager{
		rows:   rows,
		tokens: tokens,
		clock:  platform.SystemClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create inserts a session record for the user and returns its id together
// with a signed token bound to it.
func (m *Manager) Create(ctx context.Context, userID string, deviceInfo map[string]any) (string, string, error) {
	rec, err := m.rows.CreateSessionRecord(ctx, userID, deviceInfo, m.clock.Now().Add(Expiry))
	if err != nil {
		return "", "", fmt.Errorf("creating session record: %w", err)
	}
	signed, err := m.tokens.Create(rec.ID, userID)
	if err != nil {
		return "", "", err
	}
	return rec.ID, signed, nil
}

// Validate reports whether the session is usable with the given token:
// the token must verify (signature, expiry, blacklist) and the record must
// be flagged valid, not blocked or revoked, unexpired, and active within
// the inactivity window.
func (m *Manager) Validate(ctx context.Context, sessionID, signedToken string) (bool, error) {
	claims, err := m.tokens.Verify(ctx, signedToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenInvalid) || errors.Is(err, token.ErrTokenRevoked) {
			return false, nil
		}
		return false, err
	}
	if claims.SessionID != sessionID {
		return false, nil
	}

	rec, err := m.rows.GetSessionRecord(ctx, sessionID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading session record: %w", err)
	}

	now := m.clock.Now()
	switch {
	case !rec.IsValid:
		return false, nil
	case blocked(rec):
		return false, nil
	case !rec.ExpiresAt.After(now):
		return false, nil
	case now.Sub(rec.LastActivity) >= MaxInactivity:
		return false, nil
	}
	return true, nil
}

// Touch records activity on the session.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	return m.rows.TouchSessionRecord(ctx, sessionID, m.clock.Now())
}

// Invalidate revokes the session record. Tokens bound to it stop
// validating on the next check.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	return m.rows.InvalidateSessionRecord(ctx, sessionID)
}

func blocked(rec *backend.SessionRecord) bool {
	for _, flag := range []string{"blocked", "revoked"} {
		if v, ok := rec.Metadata[flag].(bool); ok && v {
			return true
		}
	}
	return false
}
