package recovery

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// Gap is a missing, inclusive sequence range.
type Gap struct {
	Start      uint64    `json:"start"`
	End        uint64    `json:"end"`
	DetectedAt time.Time `json:"detected_at"`
}

// width returns the number of sequences the gap spans.
func (g Gap) width() int { return int(g.End - g.Start + 1) }

// Snapshot is a point-in-time copy of the serialized game state, taken
// only while the stream was contiguous up to Sequence.
type Snapshot struct {
	Sequence uint64          `json:"sequence"`
	TakenAt  time.Time       `json:"taken_at"`
	State    json.RawMessage `json:"state"`
}

// persistedRecord is the JSON image written through the Store.
type persistedRecord struct {
	RoomID       string              `json:"room_id"`
	LastSequence uint64              `json:"last_sequence"`
	Snapshots    []Snapshot          `json:"snapshots"`
	Events       []protocol.Envelope `json:"events,omitempty"`
	SavedAt      time.Time           `json:"saved_at"`
}

// persistedBufferLimit caps how much of the event buffer is written
// through the Store with each record.
const persistedBufferLimit = 100

// seenKey identifies one delivered event for deduplication.
type seenKey struct {
	seq uint64
	id  string
}

// tracker holds all per-room recovery state. Access is guarded by the
// coordinator's mutex.
type tracker struct {
	roomID string

	// lastSequence is the highest sequence seen; the next live event is
	// expected at lastSequence+1.
	lastSequence uint64

	gaps []Gap

	seen      map[seenKey]struct{}
	seenOrder []seenKey

	// buffer keeps recently delivered envelopes sorted by sequence, for
	// replay after a restart.
	buffer []protocol.Envelope

	snapshots           []Snapshot
	eventsSinceSnapshot int

	recovering     bool
	recoveryCancel context.CancelFunc
	// responded is closed when a complete recovery response arrives.
	responded chan struct{}
}

func newTracker(roomID string) *tracker {
	return &tracker{
		roomID: roomID,
		seen:   make(map[seenKey]struct{}),
	}
}

// expected returns the next sequence the live stream should deliver.
func (t *tracker) expected() uint64 { return t.lastSequence + 1 }

// isDuplicate reports whether the (sequence, id) pair was already
// delivered.
func (t *tracker) isDuplicate(k seenKey) bool {
	_, ok := t.seen[k]
	return ok
}

// markSeen records a delivered event, evicting the oldest record past the
// cap.
func (t *tracker) markSeen(k seenKey, limit int) {
	if _, ok := t.seen[k]; ok {
		return
	}
	t.seen[k] = struct{}{}
	t.seenOrder = append(t.seenOrder, k)
	for len(t.seenOrder) > limit {
		delete(t.seen, t.seenOrder[0])
		t.seenOrder = t.seenOrder[1:]
	}
}

// bufferEvent inserts env into the sorted buffer, evicting the oldest
// entry past the cap.
func (t *tracker) bufferEvent(env protocol.Envelope, limit int) {
	i := sort.Search(len(t.buffer), func(i int) bool {
		return t.buffer[i].Sequence >= env.Sequence
	})
	t.buffer = append(t.buffer, protocol.Envelope{})
	copy(t.buffer[i+1:], t.buffer[i:])
	t.buffer[i] = env
	if len(t.buffer) > limit {
		t.buffer = t.buffer[len(t.buffer)-limit:]
	}
}

// recentEvents returns the newest n buffered envelopes in sequence order.
func (t *tracker) recentEvents(n int) []protocol.Envelope {
	if len(t.buffer) > n {
		return append([]protocol.Envelope(nil), t.buffer[len(t.buffer)-n:]...)
	}
	return append([]protocol.Envelope(nil), t.buffer...)
}

// addGap records [start, end] as missing and returns the recorded gap.
func (t *tracker) addGap(start, end uint64, now time.Time) Gap {
	g := Gap{Start: start, End: end, DetectedAt: now}
	t.gaps = append(t.gaps, g)
	sort.Slice(t.gaps, func(i, j int) bool { return t.gaps[i].Start < t.gaps[j].Start })
	return g
}

// fillGap removes seq from the outstanding gaps, splitting a gap when the
// sequence lands in its interior.
func (t *tracker) fillGap(seq uint64) {
	for i, g := range t.gaps {
		if seq < g.Start || seq > g.End {
			continue
		}
		switch {
		case g.Start == g.End:
			t.gaps = append(t.gaps[:i], t.gaps[i+1:]...)
		case seq == g.Start:
			t.gaps[i].Start++
		case seq == g.End:
			t.gaps[i].End--
		default:
			left := Gap{Start: g.Start, End: seq - 1, DetectedAt: g.DetectedAt}
			right := Gap{Start: seq + 1, End: g.End, DetectedAt: g.DetectedAt}
			t.gaps = append(t.gaps[:i], append([]Gap{left, right}, t.gaps[i+1:]...)...)
		}
		return
	}
}

// clearGapsThrough drops every gap fully covered by seq.
func (t *tracker) clearGapsThrough(seq uint64) {
	kept := t.gaps[:0]
	for _, g := range t.gaps {
		if g.End > seq {
			if g.Start <= seq {
				g.Start = seq + 1
			}
			kept = append(kept, g)
		}
	}
	t.gaps = kept
	if len(t.gaps) == 0 {
		t.gaps = nil
	}
}

// earliestGap returns the lowest missing sequence, or 0 when none.
func (t *tracker) earliestGap() uint64 {
	if len(t.gaps) == 0 {
		return 0
	}
	return t.gaps[0].Start
}

// addSnapshot appends a snapshot, evicting the oldest past the cap.
func (t *tracker) addSnapshot(s Snapshot, limit int) {
	t.snapshots = append(t.snapshots, s)
	if len(t.snapshots) > limit {
		t.snapshots = t.snapshots[len(t.snapshots)-limit:]
	}
	t.eventsSinceSnapshot = 0
}

// latestSnapshot returns the newest snapshot, if any.
func (t *tracker) latestSnapshot() (Snapshot, bool) {
	if len(t.snapshots) == 0 {
		return Snapshot{}, false
	}
	return t.snapshots[len(t.snapshots)-1], true
}
