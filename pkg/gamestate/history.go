package gamestate

import (
	"sync"
	"time"
)

// defaultHistoryLimit bounds the transition log.
const defaultHistoryLimit = 1000

// Transition records one committed state change.
type Transition struct {
	Old      GameState
	New      GameState
	Reason   string
	Sequence uint64
	At       time.Time
}

// history is a bounded, append-only transition log. Oldest entries are
// evicted when the limit is reached.
type history struct {
	mu      sync.Mutex
	limit   int
	entries []Transition
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &history{limit: limit}
}

func (h *history) append(tr Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, tr)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// snapshot returns a copy of the log in commit order.
func (h *history) snapshot() []Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Transition(nil), h.entries...)
}

// replayTo returns the state as of the last transition whose sequence is
// at most seq. The second return is false when no such transition remains
// in the log.
func (h *history) replayTo(seq uint64) (GameState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var (
		out   GameState
		found bool
	)
	for _, tr := range h.entries {
		if tr.Sequence > seq {
			break
		}
		out = tr.New
		found = true
	}
	if !found {
		return GameState{}, false
	}
	return out.Clone(), true
}
