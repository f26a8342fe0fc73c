// Package audit provides append-only security event logging with an
// offline queue. Events are sent to the backend when connectivity allows;
// otherwise they queue, bounded, and drain in FIFO batches once the client
// is back online. A logging failure never propagates to the action being
// audited.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cognirehab/securekit/apperr"
	"github.com/cognirehab/securekit/platform"
	"github.com/cognirehab/securekit/securestore"
)

// Well-known event types.
const (
	EventAuthSuccess         = "AUTH_SUCCESS"
	EventAuthFailed          = "AUTH_FAILED"
	EventLogout              = "LOGOUT"
	EventRegistrationSuccess = "REGISTRATION_SUCCESS"
	EventRegistrationFailed  = "REGISTRATION_FAILED"
	EventCodeActivation      = "CODE_ACTIVATION"
	EventTokenRenewed        = "TOKEN_RENEWED"
	EventSessionExpired      = "SESSION_EXPIRED"
	EventBruteForceAttempt   = "BRUTE_FORCE_ATTEMPT"
	EventOffHoursAccess      = "OFF_HOURS_ACCESS"
	EventUnauthorizedLoc     = "UNAUTHORIZED_LOCATION"
)

const (
	// queueKey is the fixed secure-storage key holding the offline queue.
	queueKey = "security_offline_queue"
	// queueCap bounds the offline queue; the oldest entries are dropped
	// beyond it.
	queueCap = 500
	// drainBatchSize is how many queued events one drain batch sends.
	drainBatchSize = 10
	// criticalTTLMinutes is how long high/critical events persist locally.
	criticalTTLMinutes = 24 * 60
)

// Event is one append-only audit record. Never mutated after creation.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"user_id,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	EventType string          `json:"event_type"`
	Details   map[string]any  `json:"details,omitempty"`
	Severity  apperr.Severity `json:"severity"`
}

// Sender delivers one event to the backend.
type Sender interface {
	LogSecurityEvent(ctx context.Context, userID, ip, eventType string, details map[string]any) error
}

// AnomalyConfig tunes the best-effort anomaly heuristics.
type AnomalyConfig struct {
	MaxLoginAttempts  int
	WindowMinutes     int
	WorkingHoursStart int // inclusive, local hour
	WorkingHoursEnd   int // exclusive, local hour
	AllowedCountries  []string
}

// DefaultAnomalyConfig mirrors the deployed clinic configuration.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		MaxLoginAttempts:  5,
		WindowMinutes:     15,
		WorkingHoursStart: 8,
		WorkingHoursEnd:   20,
		AllowedCountries:  []string{"MX"},
	}
}

// Service is the security audit logger.
type Service struct {
	sender Sender
	store  *securestore.Store
	conn   platform.Connectivity
	clock  platform.Clock
	logger *slog.Logger
	cfg    AnomalyConfig

	mu       sync.Mutex
	queue    []Event
	draining bool
	failures map[string][]time.Time

	cancelSub func()
}

// Option configures a Service.
type Option func(*Service)

// WithClock substitutes the time source.
func WithClock(c platform.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the slog logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAnomalyConfig overrides the anomaly heuristics.
func WithAnomalyConfig(cfg AnomalyConfig) Option {
	return func(s *Service) { s.cfg = cfg }
}

// NewService creates the audit service, reloads any persisted offline
// queue, and subscribes to connectivity transitions so queued events drain
// as soon as the client is back online.
func NewService(sender Sender, store *securestore.Store, conn platform.Connectivity, opts ...Option) *Service {
	s := &Service{
		sender:   sender,
		store:    store,
		conn:     conn,
		clock:    platform.SystemClock(),
		logger:   slog.Default(),
		cfg:      DefaultAnomalyConfig(),
		failures: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}

	var persisted []Event
	if s.store.Get(queueKey, &persisted) {
		s.queue = persisted
	}

	s.cancelSub = conn.Subscribe(func(online bool) {
		if online {
			s.Drain(context.Background())
		}
	})
	return s
}

// Close detaches the connectivity subscription. Queued events stay
// persisted for the next start.
func (s *Service) Close() {
	if s.cancelSub != nil {
		s.cancelSub()
	}
}

// LogEvent records a security event. Online, it attempts an immediate
// send; offline or on send failure it enqueues. High and critical events
// are additionally persisted locally so they survive a restart even before
// the queue flushes. Failures are swallowed: auditing must never break the
// audited action.
func (s *Service) LogEvent(ctx context.Context, eventType string, details map[string]any, severity apperr.Severity) {
	s.log(ctx, eventType, details, severity, false)
}

func (s *Service) log(ctx context.Context, eventType string, details map[string]any, severity apperr.Severity, synthetic bool) {
	evt := Event{
		ID:        uuid.NewString(),
		Timestamp: s.clock.Now(),
		EventType: eventType,
		Details:   details,
		Severity:  severity,
	}
	if v, ok := details["userId"].(string); ok {
		evt.UserID = v
	}
	if v, ok := details["ipAddress"].(string); ok {
		evt.IPAddress = v
	}

	if severity == apperr.SeverityHigh || severity == apperr.SeverityCritical {
		key := "security_event_" + evt.ID
		if err := s.store.Set(key, evt, securestore.WithTTL(criticalTTLMinutes), securestore.WithEncryption()); err != nil {
			s.logger.Warn("audit: persisting critical event failed", "error", err)
		}
	}

	if !s.conn.Online() {
		s.enqueue(evt)
	} else if err := s.send(ctx, evt); err != nil {
		s.logger.Warn("audit: send failed, queuing event", "event", eventType, "error", err)
		s.enqueue(evt)
	}

	// Synthetic events must not trigger further anomaly checks, or one
	// failure could cascade into an unbounded event storm.
	if !synthetic {
		s.detectAnomalies(ctx, evt)
	}
}

func (s *Service) send(ctx context.Context, evt Event) error {
	details := make(map[string]any, len(evt.Details)+2)
	for k, v := range evt.Details {
		details[k] = v
	}
	details["severity"] = string(evt.Severity)
	details["timestamp"] = evt.Timestamp.UTC().Format(time.RFC3339)
	return s.sender.LogSecurityEvent(ctx, evt.UserID, evt.IPAddress, evt.EventType, details)
}

func (s *Service) enqueue(evt Event) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	if len(s.queue) > queueCap {
		s.queue = s.queue[len(s.queue)-queueCap:]
	}
	s.persistQueueLocked()
	s.mu.Unlock()
}

// persistQueueLocked writes the queue through secure storage under its
// fixed key. Callers must hold s.mu.
func (s *Service) persistQueueLocked() {
	if err := s.store.Set(queueKey, s.queue); err != nil {
		s.logger.Warn("audit: persisting offline queue failed", "error", err)
	}
}

// QueueLen reports the number of queued events.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// QueuedEvents returns a copy of the offline queue, oldest first.
func (s *Service) QueuedEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.queue...)
}

// Drain sends queued events in fixed-size batches, sequentially batch by
// batch, entries within a batch concurrently. If any entry fails, the
// failed entries return to the front of the queue in order and the drain
// stops. Only one drain runs at a time.
func (s *Service) Drain(ctx context.Context) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	for s.conn.Online() {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.persistQueueLocked()
			s.mu.Unlock()
			return
		}
		n := drainBatchSize
		if n > len(s.queue) {
			n = len(s.queue)
		}
		batch := make([]Event, n)
		copy(batch, s.queue[:n])
		s.queue = s.queue[n:]
		s.mu.Unlock()

		failed := s.sendBatch(ctx, batch)
		if len(failed) > 0 {
			s.mu.Lock()
			s.queue = append(failed, s.queue...)
			s.persistQueueLocked()
			s.mu.Unlock()
			s.logger.Warn("audit: drain stopped, batch partially failed",
				"failed", len(failed), "remaining", s.QueueLen())
			return
		}

		s.mu.Lock()
		s.persistQueueLocked()
		s.mu.Unlock()
	}
}

// sendBatch sends the batch entries concurrently and returns the entries
// that failed, preserving their original order.
func (s *Service) sendBatch(ctx context.Context, batch []Event) []Event {
	errs := make([]error, len(batch))
	var wg sync.WaitGroup
	for i, evt := range batch {
		wg.Add(1)
		go func(i int, evt Event) {
			defer wg.Done()
			errs[i] = s.send(ctx, evt)
		}(i, evt)
	}
	wg.Wait()

	var failed []Event
	for i, err := range errs {
		if err != nil {
			failed = append(failed, batch[i])
		}
	}
	return failed
}
