package securestore

// opLogCap bounds the in-memory operation log; the oldest entry is evicted
// once the cap is reached.
const opLogCap = 1000

// OpAction identifies the kind of storage operation recorded in the log.
type OpAction string

const (
	OpRead   OpAction = "read"
	OpWrite  OpAction = "write"
	OpDelete OpAction = "delete"
	OpError  OpAction = "error"
)

// OpLog is one entry of the bounded operation log.
type OpLog struct {
	Timestamp int64 // unix milliseconds
	Action    OpAction
	Key       string
	Details   string
}

// logOp appends an entry to the ring log. Callers must hold s.mu.
func (s *Store) logOp(action OpAction, key, details string) {
	entry := OpLog{
		Timestamp: s.clock.Now().UnixMilli(),
		Action:    action,
		Key:       key,
		Details:   details,
	}
	s.logs = append(s.logs, entry)
	if len(s.logs) > opLogCap {
		s.logs = s.logs[1:]
	}
}

// Logs returns a copy of the recorded operation log, oldest first.
func (s *Store) Logs() []OpLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OpLog(nil), s.logs...)
}
