package authsession

import (
	"context"
	"time"

	"github.com/cognirehab/securekit/apperr"
	"github.com/cognirehab/securekit/audit"
	"github.com/cognirehab/securekit/cache"
)

// RefreshSession renews the backend credentials when the access token's
// remaining lifetime drops below the threshold. Failures retry with
// exponential backoff up to the attempt cap; exhausting the cap tears
// the session down and surfaces a terminal re-login error. Attempts are
// serialized: a call that finds a refresh in flight returns immediately.
func (m *Manager) RefreshSession(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.creds == nil || m.refreshing {
		m.mu.Unlock()
		return nil
	}
	if m.creds.Remaining(m.clock.Now()) > RefreshThreshold {
		m.mu.Unlock()
		return nil
	}
	m.refreshing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	var lastErr error
	for attempt := 0; attempt < m.refreshCap; attempt++ {
		if attempt > 0 {
			if err := m.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		sess, err := m.api.RefreshSession(ctx)
		if err == nil {
			m.mu.Lock()
			m.creds = sess
			if m.session != nil {
				m.session.ExpiresAt = sess.ExpiresAt
			}
			m.mu.Unlock()

			m.auditor.LogEvent(ctx, audit.EventTokenRenewed, map[string]any{
				"userId": sess.User.ID,
			}, apperr.SeverityLow)
			return nil
		}

		lastErr = err
		m.logger.Warn("session refresh failed",
			"attempt", attempt+1,
			"max_attempts", m.refreshCap,
			"error", err)
	}

	// Retry budget exhausted; the session cannot be kept alive.
	m.mu.Lock()
	var userID string
	if m.session != nil {
		userID = m.session.UserID
	}
	m.session = nil
	m.creds = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	m.perms.ClearCache()
	m.cache.Invalidate(cache.Config{Key: sessionMetaKey})

	m.auditor.LogEvent(ctx, audit.EventSessionExpired, map[string]any{
		"userId": userID,
		"reason": "refresh exhausted",
	}, apperr.SeverityMedium)

	terminal := apperr.Wrap(apperr.TypeAuthentication, "session could not be renewed, sign in again", lastErr)
	m.fail(terminal)
	return terminal
}

// backoff waits base * 2^(attempt-1), honoring teardown and cancellation.
func (m *Manager) backoff(ctx context.Context, attempt int) error {
	delay := m.refreshBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startLoops spawns the background refresh timer and the idle watchdog.
// One goroutine per concern, torn down exactly once by Close.
func (m *Manager) startLoops() {
	m.startOnce.Do(func() {
		go m.refreshLoop()
		go m.idleLoop()
	})
}

func (m *Manager) refreshLoop() {
	ticker := time.NewTicker(RefreshThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.RefreshSession(context.Background()); err != nil {
				m.logger.Warn("background refresh", "error", err)
			}
		case <-m.done:
			return
		}
	}
}

func (m *Manager) idleLoop() {
	ticker := time.NewTicker(IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CheckIdle(context.Background())
		case <-m.done:
			return
		}
	}
}
