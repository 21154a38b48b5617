package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

type wsWrite struct {
	messageType int
	data        []byte
}

// fakeSocket is an in-memory Socket. Inbound messages are injected on the
// inbound channel; writes are observable on writeCh.
type fakeSocket struct {
	inbound   chan []byte
	writeCh   chan wsWrite
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		writeCh: make(chan wsWrite, 64),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.inbound:
		return websocket.TextMessage, msg, nil
	case <-s.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	select {
	case <-s.closed:
		return errors.New("use of closed connection")
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.writeCh <- wsWrite{messageType: messageType, data: cp}
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }
func (s *fakeSocket) SetReadLimit(int64)               {}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// fakeDialer hands out a fresh fakeSocket per dial, or a queued error.
type fakeDialer struct {
	mu     sync.Mutex
	errs   []error
	dials  int
	dialCh chan *fakeSocket
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialCh: make(chan *fakeSocket, 8)}
}

func (d *fakeDialer) failNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *fakeDialer) DialContext(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	s := newFakeSocket()
	d.dialCh <- s
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func waitSocket(t *testing.T, d *fakeDialer) *fakeSocket {
	t.Helper()
	select {
	case s := <-d.dialCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func waitWrite(t *testing.T, s *fakeSocket) *protocol.Envelope {
	t.Helper()
	for {
		select {
		case w := <-s.writeCh:
			if w.messageType != websocket.TextMessage {
				continue
			}
			env, err := protocol.DecodeEnvelope(w.data)
			if err != nil {
				t.Fatalf("undecodable write: %v", err)
			}
			return env
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for write")
			return nil
		}
	}
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func subscribe(m *Manager, kind string) <-chan Event {
	ch := make(chan Event, 16)
	m.Events().Subscribe(kind, func(ev Event) { ch <- ev })
	return ch
}

func newTestManager(cfg *Config) (*Manager, *fakeDialer, *clockwork.FakeClock) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.BaseURL = "ws://game.test/ws"
	d := newFakeDialer()
	clock := clockwork.NewFakeClock()
	m := NewManager(cfg, WithDialer(d), WithClock(clock))
	return m, d, clock
}

func TestConnect_ClientReadyAndSequences(t *testing.T) {
	m, d, _ := newTestManager(nil)
	connected := subscribe(m, KindConnected)

	if err := m.Connect(context.Background(), "room-1", PlayerInfo{Name: "ana"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent(t, connected)
	sock := waitSocket(t, d)

	ready := waitWrite(t, sock)
	if ready.Event != protocol.EventClientReady {
		t.Fatalf("first write = %q, want client_ready", ready.Event)
	}
	if ready.Sequence != 1 {
		t.Errorf("client_ready sequence = %d, want 1", ready.Sequence)
	}

	// Outbound sequence numbers are strictly increasing with no repeats.
	seen := map[uint64]bool{ready.Sequence: true}
	last := ready.Sequence
	for i := 0; i < 5; i++ {
		sent, err := m.Send("room-1", "play", map[string]any{"i": i})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if !sent {
			t.Fatal("expected immediate delivery while connected")
		}
		env := waitWrite(t, sock)
		if env.Sequence <= last {
			t.Fatalf("sequence %d not greater than %d", env.Sequence, last)
		}
		if seen[env.Sequence] {
			t.Fatalf("sequence %d repeated", env.Sequence)
		}
		seen[env.Sequence] = true
		last = env.Sequence
	}

	info, ok := m.Info("room-1")
	if !ok {
		t.Fatal("expected connection record")
	}
	if info.Status != StatusConnected {
		t.Errorf("status = %q, want connected", info.Status)
	}
	if info.MessagesSent != 6 {
		t.Errorf("MessagesSent = %d, want 6", info.MessagesSent)
	}
}

func TestConnect_Timeout(t *testing.T) {
	m, d, _ := newTestManager(nil)
	d.failNext(context.DeadlineExceeded)
	failed := subscribe(m, KindConnectionFailed)

	err := m.Connect(context.Background(), "room-1", PlayerInfo{Name: "ana"})
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", err)
	}
	waitEvent(t, failed)

	if _, ok := m.Info("room-1"); ok {
		t.Error("connection record should not survive a failed connect")
	}
}

func TestSend_UnknownRoom(t *testing.T) {
	m, _, _ := newTestManager(nil)
	if _, err := m.Send("nope", "play", nil); !errors.Is(err, ErrRoomNotConnected) {
		t.Fatalf("expected ErrRoomNotConnected, got %v", err)
	}
}

func TestHeartbeat_PingAndLatency(t *testing.T) {
	m, d, clock := newTestManager(nil)
	if err := m.Connect(context.Background(), "room-1", PlayerInfo{Name: "ana"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sock := waitSocket(t, d)
	waitWrite(t, sock) // client_ready

	messages := subscribe(m, KindMessage)

	clock.BlockUntil(1) // heartbeat ticker registered
	clock.Advance(DefaultConfig().HeartbeatInterval)

	ping := waitWrite(t, sock)
	if ping.Event != protocol.EventPing {
		t.Fatalf("expected ping, got %q", ping.Event)
	}
	if ping.Sequence != 0 {
		t.Errorf("heartbeat must be unsequenced, got %d", ping.Sequence)
	}
	var p protocol.Ping
	if err := ping.DecodeData(&p); err != nil || p.ClientTime == 0 {
		t.Fatalf("ping payload missing client_time: %+v err=%v", p, err)
	}

	// Pong echoes the timestamp 150ms later; latency is the difference.
	clock.Advance(150 * time.Millisecond)
	pong, err := protocol.NewEnvelope(protocol.EventPong, protocol.Pong{ClientTime: p.ClientTime}, 0, clock.Now())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	wire, _ := pong.Encode()
	sock.inbound <- wire
	waitEvent(t, messages)

	info, _ := m.Info("room-1")
	if info.Latency != 150*time.Millisecond {
		t.Errorf("latency = %v, want 150ms", info.Latency)
	}
}

// overlapSocket counts WriteMessage calls that run concurrently. The
// sleep widens the window so unserialized writers collide reliably.
type overlapSocket struct {
	*fakeSocket
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (s *overlapSocket) WriteMessage(messageType int, data []byte) error {
	if s.inFlight.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
	s.inFlight.Add(-1)
	return s.fakeSocket.WriteMessage(messageType, data)
}

type overlapDialer struct{ sock *overlapSocket }

func (d *overlapDialer) DialContext(context.Context, string) (Socket, error) {
	return d.sock, nil
}

func TestSend_SerializedWithHeartbeat(t *testing.T) {
	sock := &overlapSocket{fakeSocket: newFakeSocket()}
	clock := clockwork.NewFakeClock()
	m := NewManager(&Config{BaseURL: "ws://game.test/ws"},
		WithDialer(&overlapDialer{sock: sock}), WithClock(clock))

	if err := m.Connect(context.Background(), "room-1", PlayerInfo{Name: "ana"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			m.Send("room-1", "play", map[string]any{"i": i})
		}
	}()

	// Fire heartbeats while the sends are in flight.
	for i := 0; i < 5; i++ {
		clock.BlockUntil(1)
		clock.Advance(DefaultConfig().HeartbeatInterval)
	}
	<-done

	if n := sock.overlaps.Load(); n != 0 {
		t.Fatalf("%d overlapping socket writes", n)
	}
}

func TestReconnect_BackoffReplayAndReset(t *testing.T) {
	cfg := &Config{MaxQueueSize: 2}
	m, d, clock := newTestManager(cfg)
	if err := m.Connect(context.Background(), "room-1", PlayerInfo{Name: "ana"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sock1 := waitSocket(t, d)
	waitWrite(t, sock1) // client_ready, sequence 1

	disconnected := subscribe(m, KindDisconnected)
	reconnecting := subscribe(m, KindReconnecting)
	reconnected := subscribe(m, KindReconnected)

	// Sever the link.
	sock1.Close()
	waitEvent(t, disconnected)
	ev := waitEvent(t, reconnecting)
	if ev.Attempt != 1 {
		t.Fatalf("first reconnect attempt = %d, want 1", ev.Attempt)
	}

	// While down, sends queue instead of failing. With MaxQueueSize 2 the
	// oldest of three queued messages is dropped.
	for i := 0; i < 3; i++ {
		sent, err := m.Send("room-1", "play", map[string]any{"i": i})
		if err != nil {
			t.Fatalf("Send while down: %v", err)
		}
		if sent {
			t.Fatal("expected queued delivery while reconnecting")
		}
	}
	if info, _ := m.Info("room-1"); info.QueueDepth != 2 {
		t.Fatalf("queue depth = %d, want 2 (bounded)", info.QueueDepth)
	}

	// Heartbeat ticker plus backoff timer are waiting on the clock.
	clock.BlockUntil(2)
	clock.Advance(2 * time.Second) // covers 1s base delay +10% jitter

	sock2 := waitSocket(t, d)
	ev = waitEvent(t, reconnected)
	if ev.Attempt != 1 {
		t.Errorf("reconnected after attempt %d, want 1", ev.Attempt)
	}

	// Queued messages replay in original order with their original
	// sequence numbers; sequence 2 was the dropped oldest entry.
	first := waitWrite(t, sock2)
	second := waitWrite(t, sock2)
	if first.Sequence != 3 || second.Sequence != 4 {
		t.Errorf("replayed sequences = %d, %d; want 3, 4", first.Sequence, second.Sequence)
	}

	// Attempt counter reset after success.
	if info, _ := m.Info("room-1"); info.ReconnectAttempt != 0 {
		t.Errorf("reconnect attempt not reset: %d", info.ReconnectAttempt)
	}

	// New sends flow immediately on the new socket.
	sent, err := m.Send("room-1", "play", nil)
	if err != nil || !sent {
		t.Fatalf("Send after reconnect: sent=%v err=%v", sent, err)
	}
	if env := waitWrite(t, sock2); env.Sequence != 5 {
		t.Errorf("post-reconnect sequence = %d, want 5", env.Sequence)
	}
}

func TestReconnect_Exhaustion(t *testing.T) {
	cfg := &Config{MaxReconnectAttempts: 2}
	m, d, clock := newTestManager(cfg)
	if err := m.Connect(context.Background(), "room-1", PlayerInfo{Name: "ana"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sock := waitSocket(t, d)
	waitWrite(t, sock)

	reconnecting := subscribe(m, KindReconnecting)
	failed := subscribe(m, KindReconnectionFailed)

	d.failNext(errors.New("refused"))
	d.failNext(errors.New("refused"))
	sock.Close()

	for attempt := 1; attempt <= 2; attempt++ {
		ev := waitEvent(t, reconnecting)
		if ev.Attempt != attempt {
			t.Fatalf("attempt = %d, want %d", ev.Attempt, attempt)
		}
		clock.BlockUntil(2)
		clock.Advance(3 * time.Second)
	}

	waitEvent(t, failed)
	if info, _ := m.Info("room-1"); info.Status != StatusDisconnected {
		t.Errorf("status = %q, want disconnected", info.Status)
	}
}

func TestDisconnect_Intentional(t *testing.T) {
	m, d, _ := newTestManager(nil)
	if err := m.Connect(context.Background(), "room-1", PlayerInfo{Name: "ana"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sock := waitSocket(t, d)
	waitWrite(t, sock)

	disconnected := subscribe(m, KindDisconnected)
	m.Disconnect("room-1", true)
	waitEvent(t, disconnected)

	// A normal-closure frame went out before the socket closed.
	select {
	case w := <-sock.writeCh:
		if w.messageType != websocket.CloseMessage {
			t.Errorf("expected close frame, got message type %d", w.messageType)
		}
	default:
		t.Error("expected a close frame write")
	}

	if _, ok := m.Info("room-1"); ok {
		t.Error("connection record should be destroyed on disconnect")
	}
	if d.dialCount() != 1 {
		t.Errorf("no reconnection should follow an intentional disconnect; dials = %d", d.dialCount())
	}
}
