package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cognirehab/securekit/apperr"
)

// HTTPClient implements Client against the hosted backend's REST surface.
// It keeps the current session in memory; persistence of session metadata
// is the caller's concern.
type HTTPClient struct {
	baseURL   string
	publicKey string
	client    *http.Client
	logger    *slog.Logger

	mu      sync.Mutex
	session *Session
}

var _ Client = (*HTTPClient)(nil)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPTimeout overrides the request timeout (default 10s).
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithHTTPLogger sets the slog logger. Default: slog.Default().
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTPClient) { c.logger = l }
}

// NewHTTPClient creates a client for the backend at baseURL, authenticating
// every request with the project's public key.
func NewHTTPClient(baseURL, publicKey string, opts ...HTTPOption) (*HTTPClient, error) {
	if baseURL == "" || publicKey == "" {
		return nil, fmt.Errorf("backend URL and public key are required")
	}
	c := &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// sessionResponse is the wire shape of the auth token endpoints.
type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

func (r *sessionResponse) toSession(now time.Time) *Session {
	return &Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(r.ExpiresIn) * time.Second),
		User:         r.User,
	}
}

func (c *HTTPClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password",
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, err
	}
	sess := resp.toSession(time.Now())
	c.setSession(sess)
	return sess, nil
}

func (c *HTTPClient) SignUp(ctx context.Context, email, password string, attrs ProfileAttrs) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/v1/signup", map[string]any{
		"email":    email,
		"password": password,
		"data":     attrs,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNoSession
	}
	sess := *c.session
	return &sess, nil
}

func (c *HTTPClient) RefreshSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil, ErrNoSession
	}

	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token",
		map[string]string{"refresh_token": current.RefreshToken}, &resp)
	if err != nil {
		return nil, err
	}
	sess := resp.toSession(time.Now())
	c.setSession(sess)
	return sess, nil
}

func (c *HTTPClient) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil)
	c.setSession(nil)
	return err
}

func (c *HTTPClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var rows []Profile
	path := "/rest/v1/profiles?id=eq." + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return &rows[0], nil
}

func (c *HTTPClient) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) error {
	path := "/rest/v1/profiles?id=eq." + url.QueryEscape(userID)
	return c.do(ctx, http.MethodPatch, path, update, nil)
}

func (c *HTTPClient) VerifyActivationCode(ctx context.Context, code string) (*ActivationCodeResult, error) {
	var result ActivationCodeResult
	err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/verify_activation_code",
		map[string]string{"p_code": code}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) MarkActivationCodeUsed(ctx context.Context, code, userID string) error {
	path := "/rest/v1/activation_codes?code=eq." + url.QueryEscape(code)
	return c.do(ctx, http.MethodPatch, path, map[string]any{
		"used_by":  userID,
		"used_at":  time.Now().UTC().Format(time.RFC3339),
		"is_valid": false,
	}, nil)
}

func (c *HTTPClient) CheckRateLimit(ctx context.Context, ip, endpoint string, maxRequests, windowSeconds int) (bool, error) {
	var allowed bool
	err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/check_rate_limit", map[string]any{
		"p_ip_address":     ip,
		"p_endpoint":       endpoint,
		"p_max_requests":   maxRequests,
		"p_window_seconds": windowSeconds,
	}, &allowed)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (c *HTTPClient) LogSecurityEvent(ctx context.Context, userID, ip, eventType string, details map[string]any) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/log_security_event", map[string]any{
		"p_user_id":    userID,
		"p_ip_address": ip,
		"p_event_type": eventType,
		"p_details":    details,
	}, nil)
}

func (c *HTTPClient) CreateSessionRecord(ctx context.Context, userID string, deviceInfo map[string]any, expiresAt time.Time) (*SessionRecord, error) {
	var rows []SessionRecord
	err := c.do(ctx, http.MethodPost, "/rest/v1/sessions", map[string]any{
		"user_id":     userID,
		"device_info": deviceInfo,
		"expires_at":  expiresAt.UTC().Format(time.RFC3339),
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.TypeAPI, "session insert returned no row")
	}
	return &rows[0], nil
}

func (c *HTTPClient) GetSessionRecord(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rows []SessionRecord
	path := "/rest/v1/sessions?id=eq." + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return &rows[0], nil
}

func (c *HTTPClient) TouchSessionRecord(ctx context.Context, sessionID string, at time.Time) error {
	path := "/rest/v1/sessions?id=eq." + url.QueryEscape(sessionID)
	return c.do(ctx, http.MethodPatch, path, map[string]string{
		"last_activity": at.UTC().Format(time.RFC3339),
	}, nil)
}

func (c *HTTPClient) InvalidateSessionRecord(ctx context.Context, sessionID string) error {
	path := "/rest/v1/sessions?id=eq." + url.QueryEscape(sessionID)
	return c.do(ctx, http.MethodPatch, path, map[string]any{
		"is_valid":       false,
		"invalidated_at": time.Now().UTC().Format(time.RFC3339),
	}, nil)
}

func (c *HTTPClient) BlacklistToken(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/token_blacklist", map[string]string{
		"token":          token,
		"invalidated_at": time.Now().UTC().Format(time.RFC3339),
	}, nil)
}

func (c *HTTPClient) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	var rows []struct {
		Token string `json:"token"`
	}
	path := "/rest/v1/token_blacklist?token=eq." + url.QueryEscape(token)
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (c *HTTPClient) InvokeFunction(ctx context.Context, name string, payload any, result any) error {
	return c.do(ctx, http.MethodPost, "/functions/v1/"+name, payload, result)
}

func (c *HTTPClient) setSession(sess *Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// do performs one JSON request and decodes the response into out when out
// is non-nil. Transport failures map to the network error type, backend
// failures map by status.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", c.publicKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		// Ask PostgREST-style row endpoints to return the affected rows.
		req.Header.Set("Prefer", "return=representation")
	}

	c.mu.Lock()
	if c.session != nil {
		req.Header.Set("Authorization", "Bearer "+c.session.AccessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.publicKey)
	}
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.TypeNetwork, "backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.mapStatus(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return apperr.Wrap(apperr.TypeAPI, "decoding backend response", err)
		}
	}
	return nil
}

// errorResponse is the backend's error body shape.
type errorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"error_description"`
}

func (e *errorResponse) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Description != "":
		return e.Description
	default:
		return e.Error
	}
}

func (c *HTTPClient) mapStatus(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	msg := body.text()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		switch {
		case strings.Contains(msg, "Email not confirmed"):
			return apperr.Wrap(apperr.TypeAuthentication, msg, ErrEmailNotConfirmed)
		case strings.Contains(msg, "already registered"):
			return apperr.Wrap(apperr.TypeValidation, msg, ErrEmailInUse)
		default:
			return apperr.Wrap(apperr.TypeAuthentication, "authentication rejected", ErrInvalidCredentials)
		}
	case resp.StatusCode == http.StatusForbidden:
		return apperr.New(apperr.TypeAuthorization, nonEmpty(msg, "forbidden"))
	case resp.StatusCode == http.StatusNotFound:
		return apperr.Wrap(apperr.TypeNotFound, nonEmpty(msg, "not found"), ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.Wrap(apperr.TypeAPI, nonEmpty(msg, "rate limited"), ErrRateLimited)
	default:
		c.logger.Warn("backend error", "status", resp.StatusCode, "message", msg)
		return apperr.New(apperr.TypeAPI, fmt.Sprintf("backend returned %d: %s", resp.StatusCode, nonEmpty(msg, "no detail")))
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
