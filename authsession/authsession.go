// Package authsession owns the client's authentication lifecycle: the
// state machine behind login, registration, and logout, token refresh
// with bounded retry, and the idle watchdog that expires abandoned
// sessions. Every transition emits an audit event and the current role
// feeds the permission evaluator.
package authsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/cognirehab/securekit/apperr"
	"github.com/cognirehab/securekit/audit"
	"github.com/cognirehab/securekit/backend"
	"github.com/cognirehab/securekit/cache"
	"github.com/cognirehab/securekit/permission"
	"github.com/cognirehab/securekit/platform"
	"github.com/cognirehab/securekit/ratelimit"
	"github.com/cognirehab/securekit/recaptcha"
)

// State is the machine's observable position.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

const (
	// RefreshThreshold is the remaining token lifetime below which a
	// refresh is attempted. The background refresh timer runs on the
	// same interval.
	RefreshThreshold = 5 * time.Minute
	// SessionExpiry is the inactivity window after which the watchdog
	// forces logout regardless of token validity.
	SessionExpiry = 24 * time.Hour
	// IdleCheckInterval is the watchdog tick.
	IdleCheckInterval = 60 * time.Second
	// ErrorDisplayWindow is how long a surfaced error stays visible
	// before it auto-clears.
	ErrorDisplayWindow = 5 * time.Second

	refreshRetryCap  = 3
	refreshRetryBase = time.Second

	sessionMetaKey = "auth_session_meta"
)

// Session is the authenticated user's state as held by the machine. It
// is mutated only through login, refresh, and logout transitions.
type Session struct {
	UserID       string
	Email        string
	Name         string
	Role         permission.Role
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	DeviceInfo   map[string]any
}

// Backend is the slice of the backend surface the machine consumes.
type Backend interface {
	backend.AuthAPI
	backend.ProfileAPI
	backend.RPCAPI
	backend.FunctionAPI
}

// Auditor records security events. Satisfied by audit.Service.
type Auditor interface {
	LogEvent(ctx context.Context, eventType string, details map[string]any, severity apperr.Severity)
}

var _ Auditor = (*audit.Service)(nil)

// sessionMeta is the slice of session state persisted locally so a
// reloaded client can show who was signed in before re-validating.
type sessionMeta struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Registration is the sign-up form.
type Registration struct {
	Email          string
	Password       string
	Name           string
	ActivationCode string
	CaptchaToken   string
	ClientIP       string
}

// Manager is the authentication state machine.
type Manager struct {
	api     Backend
	auditor Auditor
	cache   *cache.Service
	perms   *permission.Evaluator
	captcha *recaptcha.Verifier
	limiter *ratelimit.Limiter
	clock   platform.Clock
	logger  *slog.Logger
	lang    language.Tag

	refreshBase   time.Duration
	refreshCap    int
	sessionExpiry time.Duration
	errorWindow   time.Duration
	deviceInfo    map[string]any

	mu         sync.Mutex
	state      State
	session    *Session
	creds      *backend.Session
	lastError  string
	errSeq     int
	refreshing bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the time source.
func WithClock(c platform.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLanguage sets the language for user-facing error messages.
func WithLanguage(tag language.Tag) Option {
	return func(m *Manager) { m.lang = tag }
}

// WithCaptcha gates registration behind reCAPTCHA verification.
func WithCaptcha(v *recaptcha.Verifier) Option {
	return func(m *Manager) { m.captcha = v }
}

// WithRateLimiter guards activation-code verification locally.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithDeviceInfo attaches device metadata to composed sessions.
func WithDeviceInfo(info map[string]any) Option {
	return func(m *Manager) { m.deviceInfo = info }
}

// WithRefreshRetry overrides the refresh backoff base and attempt cap.
func WithRefreshRetry(base time.Duration, attempts int) Option {
	return func(m *Manager) {
		m.refreshBase = base
		m.refreshCap = attempts
	}
}

// WithSessionExpiry overrides the idle expiry window.
func WithSessionExpiry(d time.Duration) Option {
	return func(m *Manager) { m.sessionExpiry = d }
}

// WithErrorWindow overrides the error auto-clear window.
func WithErrorWindow(d time.Duration) Option {
	return func(m *Manager) { m.errorWindow = d }
}

// NewManager creates the state machine in its uninitialized state.
// Call Initialize to load any existing session and start the background
// refresh and idle loops; call Close to tear them down.
func NewManager(api Backend, auditor Auditor, cacheSvc *cache.Service, opts ...Option) *Manager {
	m := &Manager{
		api:           api,
		auditor:       auditor,
		cache:         cacheSvc,
		perms:         permission.NewEvaluator(),
		clock:         platform.SystemClock(),
		logger:        slog.Default(),
		lang:          language.English,
		refreshBase:   refreshRetryBase,
		refreshCap:    refreshRetryCap,
		sessionExpiry: SessionExpiry,
		errorWindow:   ErrorDisplayWindow,
		state:         StateUninitialized,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the machine's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a copy of the held session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Permissions exposes the evaluator bound to this machine's role data.
func (m *Manager) Permissions() *permission.Evaluator { return m.perms }

// LastError returns the user-facing error message, empty once the
// display window has elapsed.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Initialize loads the current backend session, settling into
// authenticated or unauthenticated, and starts the background loops.
func (m *Manager) Initialize(ctx context.Context) error {
	m.setState(StateLoading)
	m.startLoops()

	sess, err := m.api.GetSession(ctx)
	if err != nil {
		m.setState(StateUnauthenticated)
		if errors.Is(err, backend.ErrNoSession) {
			return nil
		}
		m.fail(err)
		return err
	}
	return m.handleAuthChange(ctx, sess)
}

// Login signs the user in. Failures are audited and surfaced without
// retry; success transitions to authenticated via the profile fetch.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.setState(StateLoading)

	sess, err := m.api.SignIn(ctx, email, password)
	if err != nil {
		m.auditor.LogEvent(ctx, audit.EventAuthFailed, map[string]any{
			"email":  email,
			"reason": err.Error(),
		}, apperr.SeverityMedium)
		m.setState(StateUnauthenticated)
		m.fail(err)
		return err
	}
	return m.handleAuthChange(ctx, sess)
}

// handleAuthChange composes the local session from backend credentials
// and the user's profile row. Idempotent; last write wins.
func (m *Manager) handleAuthChange(ctx context.Context, creds *backend.Session) error {
	profile, err := m.api.GetProfile(ctx, creds.User.ID)
	if err != nil {
		werr := apperr.Wrap(apperr.TypeAuthentication, "loading profile", err)
		m.setState(StateUnauthenticated)
		m.fail(werr)
		return werr
	}

	now := m.clock.Now()
	sess := &Session{
		UserID:       creds.User.ID,
		Email:        creds.User.Email,
		Name:         profile.Name,
		Role:         permission.ParseRole(profile.Role),
		IssuedAt:     now,
		ExpiresAt:    creds.ExpiresAt,
		LastActivity: now,
		DeviceInfo:   m.deviceInfo,
	}

	m.mu.Lock()
	m.session = sess
	m.creds = creds
	m.state = StateAuthenticated
	m.lastError = ""
	m.errSeq++
	m.mu.Unlock()

	m.perms.ClearCache()
	m.persistMeta(sess)

	m.auditor.LogEvent(ctx, audit.EventAuthSuccess, map[string]any{
		"userId": sess.UserID,
		"role":   string(sess.Role),
	}, apperr.SeverityLow)
	return nil
}

// Register signs a new user up. An activation code, when supplied, is
// verified first and any failure there is terminal; a consumed code is
// marked used after the account exists. Registration does not sign the
// user in; the address must be confirmed first.
func (m *Manager) Register(ctx context.Context, reg Registration) (*backend.User, error) {
	if m.captcha != nil {
		if err := m.captcha.Verify(ctx, reg.CaptchaToken, "register"); err != nil {
			m.registrationFailed(ctx, reg.Email, err)
			return nil, err
		}
	}

	role := permission.RolePatient
	if reg.ActivationCode != "" {
		res, err := m.VerifyActivationCode(ctx, reg.ActivationCode, reg.ClientIP)
		if err != nil {
			m.registrationFailed(ctx, reg.Email, err)
			return nil, err
		}
		if !res.IsValid {
			err := apperr.New(apperr.TypeValidation, "activation code is invalid or expired")
			m.registrationFailed(ctx, reg.Email, err)
			return nil, err
		}
		if r := permission.ParseRole(res.Role); r != "" {
			role = r
		}
	}

	user, err := m.api.SignUp(ctx, reg.Email, reg.Password, backend.ProfileAttrs{
		Name: reg.Name,
		Role: string(role),
	})
	if err != nil {
		m.registrationFailed(ctx, reg.Email, err)
		return nil, err
	}

	if reg.ActivationCode != "" {
		if err := m.api.MarkActivationCodeUsed(ctx, reg.ActivationCode, user.ID); err != nil {
			m.logger.Warn("marking activation code used", "error", err)
		}
	}

	m.auditor.LogEvent(ctx, audit.EventRegistrationSuccess, map[string]any{
		"userId": user.ID,
		"role":   string(role),
	}, apperr.SeverityLow)
	return user, nil
}

func (m *Manager) registrationFailed(ctx context.Context, email string, err error) {
	m.auditor.LogEvent(ctx, audit.EventRegistrationFailed, map[string]any{
		"email":  email,
		"reason": err.Error(),
	}, apperr.SeverityMedium)
	m.fail(err)
}

// VerifyActivationCode checks a code against the backend. The local
// limiter is the fast-path guard; the check_rate_limit RPC enforces the
// same budget server-side, across devices. Either denial is terminal.
func (m *Manager) VerifyActivationCode(ctx context.Context, code, clientIP string) (*backend.ActivationCodeResult, error) {
	key := clientIP
	if key == "" {
		key = "local"
	}
	if m.limiter != nil && !m.limiter.Allow(key) {
		return nil, apperr.Wrap(apperr.TypeValidation, "too many activation attempts", backend.ErrRateLimited)
	}

	allowed, err := m.api.CheckRateLimit(ctx, clientIP, "verify_activation_code",
		ratelimit.DefaultMaxAttempts, int(ratelimit.DefaultWindow.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("checking activation rate limit: %w", err)
	}
	if !allowed {
		return nil, apperr.Wrap(apperr.TypeValidation, "too many activation attempts", backend.ErrRateLimited)
	}

	res, err := m.api.VerifyActivationCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("verifying activation code: %w", err)
	}
	m.auditor.LogEvent(ctx, audit.EventCodeActivation, map[string]any{
		"ipAddress": clientIP,
		"isValid":   res.IsValid,
	}, apperr.SeverityLow)
	return res, nil
}

// Logout signs out and clears local state. Best effort and idempotent:
// a backend failure is logged but never blocks the local teardown.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	var userID string
	if m.session != nil {
		userID = m.session.UserID
	}
	hadSession := m.session != nil
	m.session = nil
	m.creds = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if err := m.api.SignOut(ctx); err != nil {
		m.logger.Warn("backend sign-out", "error", err)
	}
	m.perms.ClearCache()
	m.cache.Invalidate(cache.Config{Key: sessionMetaKey})

	if hadSession {
		m.auditor.LogEvent(ctx, audit.EventLogout, map[string]any{
			"userId": userID,
		}, apperr.SeverityLow)
	}
}

// UpdateProfile writes a partial profile update and reflects it into the
// held session.
func (m *Manager) UpdateProfile(ctx context.Context, update backend.ProfileUpdate) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return apperr.New(apperr.TypeAuthentication, "not signed in")
	}
	userID := m.session.UserID
	m.mu.Unlock()

	if err := m.api.UpdateProfile(ctx, userID, update); err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}

	m.mu.Lock()
	if m.session != nil && m.session.UserID == userID && update.Name != nil {
		m.session.Name = *update.Name
	}
	m.mu.Unlock()
	return nil
}

// ClientIP asks the backend for the caller's public IP, for audit
// event enrichment.
func (m *Manager) ClientIP(ctx context.Context) (string, error) {
	var resp struct {
		IP string `json:"ip"`
	}
	if err := m.api.InvokeFunction(ctx, "get-client-ip", nil, &resp); err != nil {
		return "", fmt.Errorf("looking up client ip: %w", err)
	}
	return resp.IP, nil
}

// RecordActivity stamps the session's last-activity time. Call on user
// input events.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.LastActivity = m.clock.Now()
	}
}

// CheckIdle forces logout once the session has idled past the expiry
// window. The background watchdog calls this every tick.
func (m *Manager) CheckIdle(ctx context.Context) {
	m.mu.Lock()
	expired := m.state == StateAuthenticated &&
		m.session != nil &&
		m.clock.Now().Sub(m.session.LastActivity) > m.sessionExpiry
	var userID string
	if m.session != nil {
		userID = m.session.UserID
	}
	m.mu.Unlock()

	if !expired {
		return
	}
	m.auditor.LogEvent(ctx, audit.EventSessionExpired, map[string]any{
		"userId": userID,
		"reason": "idle",
	}, apperr.SeverityMedium)
	m.Logout(ctx)
}

// Close tears down the background loops. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// fail records a user-facing, localized error message and schedules its
// auto-clear. A newer error supersedes a pending clear.
func (m *Manager) fail(err error) {
	msg := apperr.UserMessage(err, m.lang)

	m.mu.Lock()
	m.lastError = msg
	m.errSeq++
	seq := m.errSeq
	m.mu.Unlock()

	time.AfterFunc(m.errorWindow, func() {
		m.mu.Lock()
		if m.errSeq == seq {
			m.lastError = ""
		}
		m.mu.Unlock()
	})
}

func (m *Manager) persistMeta(sess *Session) {
	m.cache.Set(cache.Config{
		Key:        sessionMetaKey,
		TTLMinutes: int(m.sessionExpiry.Minutes()),
	}, sessionMeta{
		UserID:   sess.UserID,
		Role:     string(sess.Role),
		IssuedAt: sess.IssuedAt,
	})
}
