package audit

import (
	"context"
	"time"

	"github.com/cognirehab/securekit/apperr"
)

// detectAnomalies runs the advisory heuristics for a freshly logged event.
// Synthetic events it emits never block or fail the audited action, and
// never recurse into further detection.
func (s *Service) detectAnomalies(ctx context.Context, evt Event) {
	if evt.EventType == EventAuthFailed && evt.IPAddress != "" {
		if count := s.recordFailure(evt.IPAddress); count >= s.cfg.MaxLoginAttempts {
			s.log(ctx, EventBruteForceAttempt, map[string]any{
				"ipAddress":    evt.IPAddress,
				"attemptCount": count,
				"userId":       evt.UserID,
			}, apperr.SeverityCritical, true)
		}
	}

	hour := s.clock.Now().Hour()
	if hour < s.cfg.WorkingHoursStart || hour >= s.cfg.WorkingHoursEnd {
		s.log(ctx, EventOffHoursAccess, map[string]any{
			"ipAddress": evt.IPAddress,
			"hour":      hour,
			"userId":    evt.UserID,
		}, apperr.SeverityMedium, true)
	}

	if country, ok := evt.Details["country"].(string); ok && country != "" {
		if !s.countryAllowed(country) {
			s.log(ctx, EventUnauthorizedLoc, map[string]any{
				"ipAddress": evt.IPAddress,
				"country":   country,
				"userId":    evt.UserID,
			}, apperr.SeverityHigh, true)
		}
	}
}

// recordFailure tracks an AUTH_FAILED for the origin and returns how many
// fall inside the rolling window.
func (s *Service) recordFailure(origin string) int {
	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(s.cfg.WindowMinutes) * time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.failures[origin][:0]
	for _, t := range s.failures[origin] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.failures[origin] = kept
	return len(kept)
}

func (s *Service) countryAllowed(country string) bool {
	for _, c := range s.cfg.AllowedCountries {
		if c == country {
			return true
		}
	}
	return false
}
