// Package backend defines the typed surface of the hosted
// backend-as-a-service the client consumes: authentication, profile rows,
// RPC calls, session rows, token blacklist, and serverless functions.
// The contract is assumed, not re-specified; implementations translate it
// onto the wire.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials indicates sign-in was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotConfirmed indicates the account exists but the address is unverified.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrEmailInUse indicates sign-up with an already registered address.
	ErrEmailInUse = errors.New("email already in use")
	// ErrNoSession indicates no session is currently established.
	ErrNoSession = errors.New("no active session")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited indicates the backend rejected the call for rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// User is the authenticated identity as reported by the backend.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	LastSignInAt time.Time `json:"last_sign_in_at"`
}

// Session carries the backend-issued credentials.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Remaining reports the access token's remaining lifetime at now.
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// Profile is one row of the profiles table.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileAttrs are the attributes attached to a sign-up.
type ProfileAttrs struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ProfileUpdate is a partial update of a profile row. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// ActivationCodeResult is the outcome of verify_activation_code.
type ActivationCodeResult struct {
	IsValid bool   `json:"is_valid"`
	Role    string `json:"role"`
}

// SessionRecord is one row of the server-tracked sessions table.
type SessionRecord struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	IsValid      bool           `json:"is_valid"`
	ExpiresAt    time.Time      `json:"expires_at"`
	LastActivity time.Time      `json:"last_activity"`
	Metadata     map[string]any `json:"metadata"`
}

// AuthAPI covers the backend's authentication operations.
type AuthAPI interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, attrs ProfileAttrs) (*User, error)
	// GetSession returns the current session, or ErrNoSession.
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
}

// ProfileAPI covers reads and writes of the profiles table.
type ProfileAPI interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) error
}

// RPCAPI covers the backend's RPC-style calls.
type RPCAPI interface {
	VerifyActivationCode(ctx context.Context, code string) (*ActivationCodeResult, error)
	MarkActivationCodeUsed(ctx context.Context, code, userID string) error
	CheckRateLimit(ctx context.Context, ip, endpoint string, maxRequests, windowSeconds int) (bool, error)
	LogSecurityEvent(ctx context.Context, userID, ip, eventType string, details map[string]any) error
}

// SessionRowAPI covers the server-tracked sessions table.
type SessionRowAPI interface {
	CreateSessionRecord(ctx context.Context, userID string, deviceInfo map[string]any, expiresAt time.Time) (*SessionRecord, error)
	GetSessionRecord(ctx context.Context, sessionID string) (*SessionRecord, error)
	TouchSessionRecord(ctx context.Context, sessionID string, at time.Time) error
	InvalidateSessionRecord(ctx context.Context, sessionID string) error
}

// TokenBlacklistAPI covers explicit token revocation.
type TokenBlacklistAPI interface {
	BlacklistToken(ctx context.Context, token string) error
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
}

// FunctionAPI invokes a serverless function by name, decoding the JSON
// response into result when result is non-nil.
type FunctionAPI interface {
	InvokeFunction(ctx context.Context, name string, payload any, result any) error
}

// Client is the full collaborator surface.
type Client interface {
	AuthAPI
	ProfileAPI
	RPCAPI
	SessionRowAPI
	TokenBlacklistAPI
	FunctionAPI
}
