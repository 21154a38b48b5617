package gamestate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tilewire-dev/tilewire/pkg/connection"
	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// ErrNoRoom is returned by operations that need an active room session.
var ErrNoRoom = errors.New("gamestate: no active room")

// Connector is the transport surface the store needs. *connection.Manager
// satisfies it.
type Connector interface {
	Connect(ctx context.Context, roomID string, player connection.PlayerInfo) error
	Disconnect(roomID string, intentional bool)
	Send(roomID, event string, data any) (bool, error)
}

// Listener receives a snapshot of the state after each committed
// transition. It must not call back into the store.
type Listener func(GameState)

type listenerEntry struct {
	id int
	fn Listener
}

// Store owns the room state and the only commit path that may replace it.
type Store struct {
	log   zerolog.Logger
	clock clockwork.Clock
	conn  Connector

	mu         sync.Mutex
	state      GameState
	listeners  []listenerEntry
	nextListID int
	hist       *history
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(st *Store) { st.log = log }
}

// WithClock injects the clock used for transition timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(st *Store) { st.clock = c }
}

// WithHistoryLimit bounds the transition log.
func WithHistoryLimit(n int) Option {
	return func(st *Store) { st.hist = newHistory(n) }
}

// NewStore returns a store bound to the given transport.
func NewStore(conn Connector, opts ...Option) *Store {
	st := &Store{
		log:   zerolog.Nop(),
		clock: clockwork.NewRealClock(),
		conn:  conn,
		state: initialState(),
		hist:  newHistory(defaultHistoryLimit),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// GetState returns a deep copy of the current state.
func (st *Store) GetState() GameState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Clone()
}

// JoinRoom records the player identity and connects the room socket. On
// failure the error is also recorded on the state so the UI can show it.
func (st *Store) JoinRoom(ctx context.Context, roomID, playerName string) error {
	st.mu.Lock()
	prev := st.state.Clone()
	st.state.RoomID = roomID
	st.state.PlayerName = playerName
	st.commitLocked(prev, "join_room", 0)
	st.mu.Unlock()

	if err := st.conn.Connect(ctx, roomID, connection.PlayerInfo{Name: playerName}); err != nil {
		st.mu.Lock()
		prev = st.state.Clone()
		st.state.Error = fmt.Sprintf("connection failed: %v", err)
		st.commitLocked(prev, "join_failed", 0)
		st.mu.Unlock()
		return fmt.Errorf("gamestate: join room %s: %w", roomID, err)
	}

	st.mu.Lock()
	prev = st.state.Clone()
	st.state.Connected = true
	st.state.Error = ""
	st.commitLocked(prev, "joined", 0)
	st.mu.Unlock()
	return nil
}

// LeaveRoom disconnects intentionally. Mid-round the game state is kept so
// a rejoin can resume; outside a round the state resets.
func (st *Store) LeaveRoom() {
	st.mu.Lock()
	roomID := st.state.RoomID
	if roomID == "" {
		st.mu.Unlock()
		return
	}
	prev := st.state.Clone()
	if st.state.Phase.InRound() {
		st.state.Connected = false
		st.commitLocked(prev, "left_room_preserved", 0)
	} else {
		st.state = initialState()
		st.commitLocked(prev, "left_room", 0)
	}
	st.mu.Unlock()

	st.conn.Disconnect(roomID, true)
}

// Reset drops all room state unconditionally, including mid-round state.
// Used by emergency teardown; LeaveRoom is the graceful path.
func (st *Store) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	prev := st.state.Clone()
	st.state = initialState()
	st.commitLocked(prev, "reset", 0)
}

// SetConnected records a transport status change, with a reason for the
// history log ("reconnected", "connection_lost", ...).
func (st *Store) SetConnected(connected bool, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state.Connected == connected {
		return
	}
	prev := st.state.Clone()
	st.state.Connected = connected
	st.commitLocked(prev, reason, 0)
}

// Apply decodes and applies one inbound envelope. Decode failures and
// reducer panics surface on the state's Error field; the store keeps
// running either way.
func (st *Store) Apply(env *protocol.Envelope) {
	ev, err := protocol.DecodeGameEvent(env)
	if err != nil {
		st.log.Warn().Err(err).Str("event", env.Event).Uint64("sequence", env.Sequence).
			Msg("event decode failed")
		st.mu.Lock()
		prev := st.state.Clone()
		st.state.Error = fmt.Sprintf("bad %s event: %v", env.Event, err)
		st.commitLocked(prev, "decode_error", env.Sequence)
		st.mu.Unlock()
		return
	}
	st.ApplyEvent(ev, env.Sequence)
}

// ApplyEvent applies an already-decoded event at the given sequence.
func (st *Store) ApplyEvent(ev protocol.GameEvent, seq uint64) {
	if _, ok := ev.(protocol.UnknownEvent); ok {
		st.log.Debug().Str("event", ev.EventName()).Uint64("sequence", seq).
			Msg("ignoring unknown event")
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	prev := st.state.Clone()
	next, panicked := st.runReducer(prev, ev)
	if panicked != "" {
		st.state.Error = panicked
		if seq > 0 {
			st.state.LastEventSequence = seq
		}
		st.commitLocked(prev, "reducer_panic", seq)
		return
	}
	if seq > 0 {
		next.LastEventSequence = seq
	}
	st.state = next
	st.commitLocked(prev, ev.EventName(), seq)
}

// runReducer runs the reducer with panic containment. A panicking reducer
// must not take the store down; the panic becomes a state error instead.
func (st *Store) runReducer(prev GameState, ev protocol.GameEvent) (next GameState, panicMsg string) {
	defer func() {
		if r := recover(); r != nil {
			st.log.Error().Str("event", ev.EventName()).Interface("panic", r).
				Msg("reducer panicked")
			panicMsg = fmt.Sprintf("internal error applying %s: %v", ev.EventName(), r)
		}
	}()
	next = reduce(prev, ev)
	return next, ""
}

// commitLocked finalizes a transition: recompute derived fields, log it,
// and notify listeners in registration order. Caller holds st.mu; listener
// callbacks therefore must not re-enter the store.
func (st *Store) commitLocked(prev GameState, reason string, seq uint64) {
	derive(&st.state)
	st.hist.append(Transition{
		Old:      prev,
		New:      st.state.Clone(),
		Reason:   reason,
		Sequence: seq,
		At:       st.clock.Now(),
	})
	snapshot := st.state.Clone()
	for _, l := range st.listeners {
		l.fn(snapshot)
	}
}

// AddListener registers a transition listener and returns its remover.
func (st *Store) AddListener(fn Listener) func() {
	st.mu.Lock()
	defer st.mu.Unlock()
	id := st.nextListID
	st.nextListID++
	st.listeners = append(st.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		for i, l := range st.listeners {
			if l.id == id {
				st.listeners = append(st.listeners[:i], st.listeners[i+1:]...)
				return
			}
		}
	}
}

// ClearError clears the transient error field.
func (st *Store) ClearError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state.Error == "" {
		return
	}
	prev := st.state.Clone()
	st.state.Error = ""
	st.commitLocked(prev, "error_cleared", 0)
}

// History returns a copy of the transition log in commit order.
func (st *Store) History() []Transition { return st.hist.snapshot() }

// ReplayTo returns the state as of the given event sequence, for
// diagnostics. The second return is false when the log no longer covers
// that sequence.
func (st *Store) ReplayTo(seq uint64) (GameState, bool) { return st.hist.replayTo(seq) }
