package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// ErrUnknownRoom is returned when an operation names a room that was never
// initialized or has been cleaned up.
var ErrUnknownRoom = errors.New("recovery: unknown room")

// Sender delivers outbound messages. *connection.Manager satisfies it.
type Sender interface {
	Send(roomID, event string, data any) (bool, error)
}

// Applier consumes envelopes that passed dedup and gap accounting.
// *gamestate.Store satisfies it.
type Applier interface {
	Apply(env *protocol.Envelope)
}

// SnapshotFunc serializes the current game state for a snapshot.
type SnapshotFunc func(roomID string) ([]byte, error)

// Notification kinds.
const (
	KindGapDetected       = "gap_detected"
	KindRecoveryStarted   = "recovery_started"
	KindRecoveryCompleted = "recovery_completed"
	KindRecoveryFailed    = "recovery_failed"
	KindSnapshotTaken     = "snapshot_taken"
)

// Event is one coordinator notification.
type Event struct {
	Kind    string
	RoomID  string
	Gap     Gap
	From    uint64
	To      uint64
	Attempt int
	Err     error
}

// Coordinator tracks per-room sequence continuity and drives recovery.
type Coordinator struct {
	cfg      Config
	log      zerolog.Logger
	clock    clockwork.Clock
	sender   Sender
	applier  Applier
	store    Store
	snapshot SnapshotFunc

	mu        sync.Mutex
	rooms     map[string]*tracker
	notifiers []notifierEntry
	nextNotif int
}

type notifierEntry struct {
	id int
	fn func(Event)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithClock injects the clock used for timestamps, timeouts, and retry
// backoff.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithStore sets the persistence backend. Defaults to an in-memory store.
func WithStore(s Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithSnapshotFunc sets the state serializer used for snapshots. Without
// one, snapshots are disabled.
func WithSnapshotFunc(fn SnapshotFunc) Option {
	return func(c *Coordinator) { c.snapshot = fn }
}

// NewCoordinator returns a coordinator wired to the given transport and
// state sink.
func NewCoordinator(cfg Config, sender Sender, applier Applier, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg.withDefaults(),
		log:     zerolog.Nop(),
		clock:   clockwork.NewRealClock(),
		sender:  sender,
		applier: applier,
		store:   NewMemoryStore(),
		rooms:   make(map[string]*tracker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify registers a notification callback and returns its remover.
// Callbacks run synchronously and must not call back into the coordinator.
func (c *Coordinator) Notify(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextNotif
	c.nextNotif++
	c.notifiers = append(c.notifiers, notifierEntry{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, n := range c.notifiers {
			if n.id == id {
				c.notifiers = append(c.notifiers[:i], c.notifiers[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator) emitLocked(ev Event) {
	for _, n := range c.notifiers {
		n.fn(ev)
	}
}

// InitializeRoom starts tracking a room, restoring the persisted record if
// one exists. Safe to call again for an already-tracked room.
func (c *Coordinator) InitializeRoom(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return nil
	}
	rt := newTracker(roomID)
	if data, found, err := c.store.Get(recordKey(roomID)); err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("recovery record load failed")
	} else if found {
		var rec persistedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("recovery record corrupt, starting fresh")
		} else {
			rt.lastSequence = rec.LastSequence
			rt.snapshots = rec.Snapshots
			rt.buffer = rec.Events
			c.log.Info().Str("room_id", roomID).Uint64("last_sequence", rec.LastSequence).
				Int("snapshots", len(rec.Snapshots)).Msg("recovery record restored")
		}
	}
	c.rooms[roomID] = rt
	return nil
}

// CleanupRoom stops tracking a room and deletes its persisted record.
func (c *Coordinator) CleanupRoom(roomID string) {
	c.mu.Lock()
	rt, ok := c.rooms[roomID]
	if ok {
		if rt.recoveryCancel != nil {
			rt.recoveryCancel()
		}
		delete(c.rooms, roomID)
	}
	c.mu.Unlock()
	if ok {
		if err := c.store.Delete(recordKey(roomID)); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("recovery record delete failed")
		}
	}
}

// RecordEvent runs one sequenced envelope through dedup and gap
// accounting, then hands it to the applier. Unsequenced envelopes pass
// straight through. The boolean reports whether the event was applied;
// false means it was dropped as a duplicate.
func (c *Coordinator) RecordEvent(roomID string, env *protocol.Envelope) (bool, error) {
	if env.Sequence == 0 {
		c.applier.Apply(env)
		return true, nil
	}

	c.mu.Lock()
	rt, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}

	key := seenKey{seq: env.Sequence, id: env.ID}
	if rt.isDuplicate(key) {
		c.mu.Unlock()
		c.log.Debug().Str("room_id", roomID).Uint64("sequence", env.Sequence).
			Msg("duplicate event dropped")
		return false, nil
	}
	rt.markSeen(key, c.cfg.MaxTrackedEvents)
	rt.bufferEvent(*env, c.cfg.MaxTrackedEvents)

	var (
		gapEv     *Event
		autoStart bool
	)
	switch {
	case env.Sequence == rt.expected():
		rt.lastSequence = env.Sequence
	case env.Sequence > rt.expected():
		g := rt.addGap(rt.expected(), env.Sequence-1, c.clock.Now())
		c.log.Warn().Str("room_id", roomID).
			Uint64("gap_start", g.Start).Uint64("gap_end", g.End).
			Msg("sequence gap detected")
		ev := Event{Kind: KindGapDetected, RoomID: roomID, Gap: g}
		gapEv = &ev
		autoStart = g.width() >= c.cfg.AutoRecoverGap
		rt.lastSequence = env.Sequence
	default:
		// Late arrival filling an earlier gap.
		rt.fillGap(env.Sequence)
	}
	rt.eventsSinceSnapshot++
	if gapEv != nil {
		c.emitLocked(*gapEv)
	}
	c.mu.Unlock()

	c.applier.Apply(env)

	c.maybeSnapshot(roomID)
	if autoStart {
		c.StartRecovery(roomID)
	}
	return true, nil
}

// maybeSnapshot takes a snapshot when the cadence is due and the stream is
// contiguous.
func (c *Coordinator) maybeSnapshot(roomID string) {
	if c.snapshot == nil {
		return
	}
	c.mu.Lock()
	rt, ok := c.rooms[roomID]
	if !ok || rt.eventsSinceSnapshot < c.cfg.SnapshotInterval || len(rt.gaps) > 0 {
		c.mu.Unlock()
		return
	}
	seq := rt.lastSequence
	c.mu.Unlock()

	state, err := c.snapshot(roomID)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("snapshot serialize failed")
		return
	}

	c.mu.Lock()
	rt, ok = c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return
	}
	snap := Snapshot{Sequence: seq, TakenAt: c.clock.Now(), State: state}
	rt.addSnapshot(snap, c.cfg.MaxSnapshots)
	rec := persistedRecord{
		RoomID:       roomID,
		LastSequence: rt.lastSequence,
		Snapshots:    append([]Snapshot(nil), rt.snapshots...),
		Events:       rt.recentEvents(persistedBufferLimit),
		SavedAt:      c.clock.Now(),
	}
	c.emitLocked(Event{Kind: KindSnapshotTaken, RoomID: roomID, From: seq})
	c.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("snapshot marshal failed")
		return
	}
	if err := c.store.Set(recordKey(roomID), data); err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("snapshot persist failed")
	}
	c.log.Debug().Str("room_id", roomID).Uint64("sequence", seq).Msg("snapshot taken")
}

// StartRecovery requests the missing range from the server. Idempotent: a
// second call while one is in flight does nothing and returns false.
func (c *Coordinator) StartRecovery(roomID string) bool {
	c.mu.Lock()
	rt, ok := c.rooms[roomID]
	if !ok || rt.recovering {
		c.mu.Unlock()
		return false
	}

	from := uint64(1)
	snap, hasSnap := rt.latestSnapshot()
	gap := rt.earliestGap()
	switch {
	case hasSnap:
		from = snap.Sequence + 1
		if gap > 0 && gap < from {
			from = gap
		}
	case gap > 0:
		from = gap
	case rt.lastSequence > 0:
		// Nothing missing locally: resync from the last applied sequence.
		from = rt.lastSequence + 1
	}
	// Zero means open-ended: the server sends through its latest.
	to := rt.lastSequence
	if to < from {
		to = 0
	}

	rt.recovering = true
	rt.responded = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	rt.recoveryCancel = cancel
	responded := rt.responded
	c.emitLocked(Event{Kind: KindRecoveryStarted, RoomID: roomID, From: from, To: to})
	c.mu.Unlock()

	c.log.Info().Str("room_id", roomID).Uint64("from", from).Uint64("to", to).
		Msg("recovery started")
	go c.runRecovery(ctx, roomID, from, to, responded)
	return true
}

// runRecovery sends recovery requests with linear backoff until a complete
// response arrives or retries are exhausted.
func (c *Coordinator) runRecovery(ctx context.Context, roomID string, from, to uint64, responded chan struct{}) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		req := protocol.RecoveryRequest{RoomID: roomID, FromSequence: from, ToSequence: to}
		if _, err := c.sender.Send(roomID, protocol.EventRequestRecovery, req); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("room_id", roomID).Int("attempt", attempt).
				Msg("recovery request send failed")
		} else {
			timeout := c.clock.NewTimer(c.cfg.RequestTimeout)
			select {
			case <-responded:
				timeout.Stop()
				c.finishRecovery(roomID, Event{Kind: KindRecoveryCompleted, RoomID: roomID, From: from, To: to, Attempt: attempt})
				return
			case <-timeout.Chan():
				lastErr = fmt.Errorf("recovery: request timed out after %s", c.cfg.RequestTimeout)
			case <-ctx.Done():
				timeout.Stop()
				return
			}
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		wait := c.clock.NewTimer(c.cfg.RetryBackoff * time.Duration(attempt))
		select {
		case <-wait.Chan():
		case <-ctx.Done():
			wait.Stop()
			return
		}
	}
	c.finishRecovery(roomID, Event{Kind: KindRecoveryFailed, RoomID: roomID, From: from, To: to, Attempt: c.cfg.MaxRetries, Err: lastErr})
}

// finishRecovery clears the in-flight flag and emits the outcome.
func (c *Coordinator) finishRecovery(roomID string, ev Event) {
	c.mu.Lock()
	rt, ok := c.rooms[roomID]
	if ok {
		rt.recovering = false
		rt.recoveryCancel = nil
		rt.responded = nil
		c.emitLocked(ev)
	}
	c.mu.Unlock()
	if ev.Kind == KindRecoveryFailed {
		c.log.Error().Err(ev.Err).Str("room_id", roomID).Msg("recovery failed")
	} else {
		c.log.Info().Str("room_id", roomID).Int("attempt", ev.Attempt).Msg("recovery completed")
	}
}

// HandleRecoveryResponse replays the resent envelopes through the normal
// event path and, when the response is complete, ends the in-flight
// recovery and clears the covered gaps.
func (c *Coordinator) HandleRecoveryResponse(roomID string, resp protocol.RecoveryResponse) {
	for i := range resp.Events {
		env := resp.Events[i]
		if _, err := c.RecordEvent(roomID, &env); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("recovery replay failed")
			return
		}
	}

	if !resp.Complete {
		return
	}
	c.mu.Lock()
	rt, ok := c.rooms[roomID]
	if ok {
		rt.clearGapsThrough(resp.EndSequence)
		if resp.EndSequence > rt.lastSequence {
			rt.lastSequence = resp.EndSequence
		}
		if rt.responded != nil {
			close(rt.responded)
			rt.responded = nil
		}
	}
	c.mu.Unlock()
}

// HandleReconnected triggers a resync after the transport came back; any
// events broadcast while the socket was down are recovered.
func (c *Coordinator) HandleReconnected(roomID string) {
	c.mu.Lock()
	_, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.StartRecovery(roomID)
}

// Gaps returns a copy of the outstanding gaps for a room.
func (c *Coordinator) Gaps(roomID string) []Gap {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]Gap(nil), rt.gaps...)
}

// LastSequence returns the highest sequence seen for a room.
func (c *Coordinator) LastSequence(roomID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.rooms[roomID]
	if !ok {
		return 0
	}
	return rt.lastSequence
}

// Snapshots returns a copy of the room's snapshot ring, oldest first.
func (c *Coordinator) Snapshots(roomID string) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]Snapshot(nil), rt.snapshots...)
}

// Buffered returns a copy of the room's recent-event buffer in sequence
// order.
func (c *Coordinator) Buffered(roomID string) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]protocol.Envelope(nil), rt.buffer...)
}

// Recovering reports whether a recovery is in flight for the room.
func (c *Coordinator) Recovering(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.rooms[roomID]
	return ok && rt.recovering
}
