package tilewire

import (
	"fmt"
	"sync"
	"time"
)

// ErrorType classifies a service failure; the type selects the handling
// strategy.
type ErrorType string

const (
	ErrorConnectionFailed   ErrorType = "network_connection_failed"
	ErrorReconnectExhausted ErrorType = "network_reconnect_exhausted"
	ErrorSequenceGap        ErrorType = "sequence_gap"
	ErrorRecoveryFailed     ErrorType = "recovery_failed"
	ErrorGameState          ErrorType = "game_state_error"
	ErrorSessionFatal       ErrorType = "session_fatal"
	ErrorInternal           ErrorType = "internal"
)

// Severity ranks how urgently a ServiceError needs attention.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the log name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ServiceError is one classified failure observed by the client.
type ServiceError struct {
	Type      ErrorType
	Severity  Severity
	Message   string
	Source    string
	Timestamp time.Time
	Context   map[string]any
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("tilewire: [%s/%s] %s: %s", e.Type, e.Severity, e.Source, e.Message)
}

// errorLog keeps a bounded history of service errors and trips an alarm
// when too many arrive inside the sliding window.
type errorLog struct {
	mu        sync.Mutex
	limit     int
	threshold int
	window    time.Duration
	entries   []*ServiceError
	alarmed   bool
}

func newErrorLog(limit, threshold int, window time.Duration) *errorLog {
	return &errorLog{limit: limit, threshold: threshold, window: window}
}

// record appends the error and reports whether this entry tripped the
// alarm (a transition, not a level: it reports true once per burst).
func (l *errorLog) record(e *ServiceError) (tripped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}

	recent := l.countSinceLocked(e.Timestamp.Add(-l.window))
	if recent >= l.threshold {
		if !l.alarmed {
			l.alarmed = true
			return true
		}
		return false
	}
	l.alarmed = false
	return false
}

// countSinceLocked counts entries at or after cutoff.
func (l *errorLog) countSinceLocked(cutoff time.Time) int {
	n := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// recent returns up to n newest errors, newest first.
func (l *errorLog) recent(n int) []*ServiceError {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]*ServiceError, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// countSince counts errors at or after cutoff.
func (l *errorLog) countSince(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countSinceLocked(cutoff)
}

// reset drops the history and clears the alarm.
func (l *errorLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.alarmed = false
}
