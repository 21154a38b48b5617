package connection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// Manager errors.
var (
	// ErrConnectTimeout is returned when the dial does not complete within
	// Config.ConnectTimeout.
	ErrConnectTimeout = errors.New("connection: connect timeout")

	// ErrRoomNotConnected is returned when an operation names a room with
	// no connection record.
	ErrRoomNotConnected = errors.New("connection: room not connected")
)

// Manager owns one WebSocket per room.
type Manager struct {
	cfg     *Config
	log     zerolog.Logger
	clock   clockwork.Clock
	dialer  Dialer
	emitter *Emitter

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	rooms map[string]*roomConn
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for all timers.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithDialer sets the dialer used to open sockets.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a connection manager. Zero config fields fall back to
// DefaultConfig values.
func NewManager(cfg *Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		log:     zerolog.Nop(),
		clock:   clockwork.NewRealClock(),
		dialer:  NewGorillaDialer(nil),
		emitter: NewEmitter(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		rooms:   make(map[string]*roomConn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the manager's event emitter.
func (m *Manager) Events() *Emitter { return m.emitter }

// Connect opens the room's socket, closing any prior one for that room
// first. On success it starts the heartbeat, announces the client with
// client_ready, and flushes any queued messages.
func (m *Manager) Connect(ctx context.Context, roomID string, player PlayerInfo) error {
	if prior := m.getRoom(roomID); prior != nil {
		m.Disconnect(roomID, true)
	}

	roomCtx, cancel := context.WithCancel(context.Background())
	rc := &roomConn{
		roomID: roomID,
		player: player,
		status: StatusConnecting,
		queue:  newOutboundQueue(m.cfg.MaxQueueSize),
		ctx:    roomCtx,
		cancel: cancel,
	}
	m.mu.Lock()
	m.rooms[roomID] = rc
	m.mu.Unlock()

	dctx, dcancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	sock, err := m.dialer.DialContext(dctx, m.roomURL(roomID))
	dcancel()
	if err != nil {
		cancel()
		m.removeRoom(rc)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s", ErrConnectTimeout, roomID)
		}
		m.log.Error().Err(err).Str("room_id", roomID).Msg("connect failed")
		m.emitter.Emit(Event{Kind: KindConnectionFailed, RoomID: roomID, Err: err})
		return err
	}

	sock.SetReadLimit(m.cfg.MaxMessageSize)

	rc.mu.Lock()
	rc.sock = sock
	rc.gen++
	gen := rc.gen
	rc.status = StatusConnected
	rc.connectedAt = m.clock.Now()
	rc.lastActivity = rc.connectedAt
	rc.mu.Unlock()

	go m.readLoop(rc, sock, gen)
	go m.heartbeatLoop(rc)

	m.log.Info().Str("room_id", roomID).Str("player", player.Name).Msg("connected")
	m.emitter.Emit(Event{Kind: KindConnected, RoomID: roomID})

	if _, err := m.Send(roomID, protocol.EventClientReady, player); err != nil {
		m.log.Warn().Err(err).Str("room_id", roomID).Msg("client_ready send failed")
	}
	m.flushQueue(rc)

	return nil
}

// Disconnect tears the room's connection down. When intentional, a normal
// closure frame is written first and no reconnection is attempted.
func (m *Manager) Disconnect(roomID string, intentional bool) {
	rc := m.getRoom(roomID)
	if rc == nil {
		return
	}

	rc.mu.Lock()
	rc.intentional = true
	sock := rc.sock
	rc.sock = nil
	rc.status = StatusDisconnected
	rc.mu.Unlock()

	// Stops the heartbeat and aborts any in-flight backoff wait.
	rc.cancel()

	if sock != nil {
		if intentional {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			rc.writeMu.Lock()
			sock.SetWriteDeadline(m.clock.Now().Add(m.cfg.WriteTimeout))
			sock.WriteMessage(websocket.CloseMessage, msg)
			rc.writeMu.Unlock()
		}
		sock.Close()
	}

	m.removeRoom(rc)
	m.log.Info().Str("room_id", roomID).Bool("intentional", intentional).Msg("disconnected")
	m.emitter.Emit(Event{Kind: KindDisconnected, RoomID: roomID})
}

// Send assigns the next sequence number for the room and attempts immediate
// delivery. The boolean reports whether the message went out right away;
// false means it was queued for replay after reconnection, which is not an
// error.
func (m *Manager) Send(roomID, event string, data any) (bool, error) {
	rc := m.getRoom(roomID)
	if rc == nil {
		return false, fmt.Errorf("%w: %s", ErrRoomNotConnected, roomID)
	}

	rc.mu.Lock()
	rc.seq++
	env, err := protocol.NewEnvelope(event, data, rc.seq, m.clock.Now())
	if err != nil {
		rc.seq--
		rc.mu.Unlock()
		return false, err
	}

	if rc.status != StatusConnected || rc.sock == nil {
		m.enqueueLocked(rc, env)
		rc.mu.Unlock()
		return false, nil
	}
	sock := rc.sock
	rc.mu.Unlock()

	if err := m.writeEnvelope(rc, sock, env); err != nil {
		m.log.Warn().Err(err).Str("room_id", roomID).Str("event", event).Msg("write failed, queueing")
		rc.mu.Lock()
		m.enqueueLocked(rc, env)
		rc.mu.Unlock()
		return false, nil
	}

	rc.mu.Lock()
	rc.sent++
	rc.lastActivity = m.clock.Now()
	rc.mu.Unlock()
	return true, nil
}

// Info returns the room's connection record snapshot.
func (m *Manager) Info(roomID string) (Info, bool) {
	rc := m.getRoom(roomID)
	if rc == nil {
		return Info{}, false
	}
	return rc.snapshot(), true
}

// Rooms lists rooms with a live connection record.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	return out
}

// Close disconnects every room.
func (m *Manager) Close() {
	for _, id := range m.Rooms() {
		m.Disconnect(id, true)
	}
}

func (m *Manager) roomURL(roomID string) string {
	return m.cfg.BaseURL + "/" + roomID
}

func (m *Manager) getRoom(roomID string) *roomConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

// removeRoom deletes the record only if it is still the current one for its
// room id; Connect may already have replaced it.
func (m *Manager) removeRoom(rc *roomConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[rc.roomID] == rc {
		delete(m.rooms, rc.roomID)
	}
}

// enqueueLocked pushes env onto the room's queue; rc.mu must be held.
func (m *Manager) enqueueLocked(rc *roomConn, env *protocol.Envelope) {
	if dropped := rc.queue.push(env); dropped != nil {
		m.log.Warn().
			Str("room_id", rc.roomID).
			Str("event", dropped.Event).
			Uint64("sequence", dropped.Sequence).
			Msg("outbound queue full, dropping oldest message")
	}
}

// writeEnvelope encodes env and writes it under the room's write mutex.
func (m *Manager) writeEnvelope(rc *roomConn, sock Socket, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	sock.SetWriteDeadline(m.clock.Now().Add(m.cfg.WriteTimeout))
	return sock.WriteMessage(websocket.TextMessage, data)
}

// flushQueue replays queued envelopes in their original order on the
// current socket.
func (m *Manager) flushQueue(rc *roomConn) {
	rc.mu.Lock()
	sock := rc.sock
	queued := rc.queue.drain()
	rc.mu.Unlock()
	if sock == nil {
		return
	}

	for i, env := range queued {
		if err := m.writeEnvelope(rc, sock, env); err != nil {
			m.log.Warn().Err(err).Str("room_id", rc.roomID).Msg("queue replay write failed")
			rc.mu.Lock()
			for _, rest := range queued[i:] {
				m.enqueueLocked(rc, rest)
			}
			rc.mu.Unlock()
			return
		}
		rc.mu.Lock()
		rc.sent++
		rc.mu.Unlock()
	}
}

// readLoop consumes inbound messages for one socket generation.
func (m *Manager) readLoop(rc *roomConn, sock Socket, gen int) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			m.handleReadError(rc, gen, err)
			return
		}

		env, derr := protocol.DecodeEnvelope(data)
		if derr != nil {
			m.log.Warn().Err(derr).Str("room_id", rc.roomID).Msg("dropping unparseable message")
			continue
		}

		now := m.clock.Now()
		var latency time.Duration
		rc.mu.Lock()
		rc.received++
		rc.lastActivity = now
		if env.Event == protocol.EventPong {
			var pong protocol.Pong
			if env.DecodeData(&pong) == nil && pong.ClientTime > 0 {
				// The echoed timestamp is millisecond-truncated, so the
				// receive time must be too.
				rc.latency = now.Truncate(time.Millisecond).Sub(time.UnixMilli(pong.ClientTime))
				latency = rc.latency
			}
		}
		rc.mu.Unlock()

		ev := Event{Kind: KindMessage, RoomID: rc.roomID, Envelope: env, Latency: latency}
		m.emitter.Emit(ev)
		ev.Kind = env.Event
		m.emitter.Emit(ev)
	}
}

// handleReadError decides between a quiet exit (intentional close or stale
// generation) and starting reconnection.
func (m *Manager) handleReadError(rc *roomConn, gen int, err error) {
	rc.mu.Lock()
	if rc.gen != gen || rc.intentional {
		rc.mu.Unlock()
		return
	}
	if rc.sock != nil {
		rc.sock.Close()
		rc.sock = nil
	}
	rc.status = StatusReconnecting
	rc.mu.Unlock()

	m.log.Warn().Err(err).Str("room_id", rc.roomID).Msg("connection lost")
	m.emitter.Emit(Event{Kind: KindDisconnected, RoomID: rc.roomID, Err: err})

	go m.reconnectLoop(rc)
}

// reconnectLoop retries the dial on the backoff schedule until success,
// exhaustion, or room shutdown. On success the attempt counter resets and
// queued messages replay in original order.
func (m *Manager) reconnectLoop(rc *roomConn) {
	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		rc.mu.Lock()
		rc.reconnectAttempt = attempt
		rc.mu.Unlock()

		m.emitter.Emit(Event{Kind: KindReconnecting, RoomID: rc.roomID, Attempt: attempt})

		delay := m.nextDelay(attempt)
		timer := m.clock.NewTimer(delay)
		select {
		case <-rc.ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		dctx, cancel := context.WithTimeout(rc.ctx, m.cfg.ConnectTimeout)
		sock, err := m.dialer.DialContext(dctx, m.roomURL(rc.roomID))
		cancel()
		if err != nil {
			if rc.ctx.Err() != nil {
				return
			}
			m.log.Warn().Err(err).Str("room_id", rc.roomID).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		sock.SetReadLimit(m.cfg.MaxMessageSize)

		rc.mu.Lock()
		rc.sock = sock
		rc.gen++
		gen := rc.gen
		rc.status = StatusConnected
		rc.connectedAt = m.clock.Now()
		rc.lastActivity = rc.connectedAt
		rc.reconnectAttempt = 0
		rc.mu.Unlock()

		go m.readLoop(rc, sock, gen)
		m.flushQueue(rc)

		m.log.Info().Str("room_id", rc.roomID).Int("attempts", attempt).Msg("reconnected")
		m.emitter.Emit(Event{Kind: KindReconnected, RoomID: rc.roomID, Attempt: attempt})
		return
	}

	rc.mu.Lock()
	rc.status = StatusDisconnected
	rc.mu.Unlock()
	m.log.Error().Str("room_id", rc.roomID).Int("attempts", m.cfg.MaxReconnectAttempts).Msg("reconnection exhausted")
	m.emitter.Emit(Event{Kind: KindReconnectionFailed, RoomID: rc.roomID})
}

func (m *Manager) nextDelay(attempt int) time.Duration {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return backoffDelay(m.cfg.BackoffSchedule, attempt, m.cfg.JitterFraction, m.rng)
}

// heartbeatLoop sends an application-level ping with the current timestamp
// at a fixed interval for the room's lifetime. Latency is measured when the
// pong echoes the timestamp back.
func (m *Manager) heartbeatLoop(rc *roomConn) {
	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.Chan():
		}

		rc.mu.Lock()
		sock := rc.sock
		connected := rc.status == StatusConnected
		rc.mu.Unlock()
		if !connected || sock == nil {
			continue
		}

		now := m.clock.Now()
		env, err := protocol.NewEnvelope(protocol.EventPing, protocol.Ping{ClientTime: now.UnixMilli()}, 0, now)
		if err != nil {
			continue
		}
		if err := m.writeEnvelope(rc, sock, env); err != nil {
			m.log.Debug().Err(err).Str("room_id", rc.roomID).Msg("heartbeat write failed")
		}
	}
}
