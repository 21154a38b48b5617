package tilewire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tilewire-dev/tilewire/pkg/connection"
	"github.com/tilewire-dev/tilewire/pkg/gamestate"
	"github.com/tilewire-dev/tilewire/pkg/protocol"
	"github.com/tilewire-dev/tilewire/pkg/recovery"
)

// State is the client lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDestroyed
)

// String returns the log name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle errors.
var (
	ErrNotReady           = errors.New("tilewire: client not ready")
	ErrAlreadyInitialized = errors.New("tilewire: client already initialized")
	ErrDestroyed          = errors.New("tilewire: client destroyed")
)

// Client composes the connection manager, state store, and recovery
// coordinator into one synchronization layer.
type Client struct {
	cfg      Config
	log      zerolog.Logger
	clock    clockwork.Clock
	tracer   trace.Tracer
	connOpts []connection.Option
	recStore recovery.Store

	conn  *connection.Manager
	store *gamestate.Store
	coord *recovery.Coordinator
	met   *metrics
	errs  *errorLog
	debug *debugServer

	mu         sync.Mutex
	state      State
	activeRoom string
	unsubs     []func()
	stop       chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger; the underlying services inherit it
// with per-service component fields.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock injects the clock used by every service. Tests pass a fake.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithConnectionOptions forwards extra options to the connection manager,
// such as a fake dialer in tests.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(c *Client) { c.connOpts = append(c.connOpts, opts...) }
}

// WithRecoveryStore sets the recovery persistence backend, overriding the
// StorageDir-derived default. Use recovery.NewS3Store for shared storage.
func WithRecoveryStore(s recovery.Store) Option {
	return func(c *Client) { c.recStore = s }
}

// New validates the configuration and returns an uninitialized client.
// Call Initialize before anything else.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.ServerURL == "" && cfg.Connection.BaseURL == "" {
		return nil, errors.New("tilewire: ServerURL is required")
	}
	c := &Client{
		cfg:    cfg,
		log:    zerolog.Nop(),
		clock:  clockwork.NewRealClock(),
		tracer: otel.Tracer("tilewire"),
		met:    newMetrics(),
		errs:   newErrorLog(cfg.ErrorHistorySize, cfg.AlarmThreshold, cfg.AlarmWindow),
		state:  StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Initialize builds and wires the services in dependency order: transport
// first, then the state store on top of it, then the recovery coordinator
// bridging the two. It finishes by starting the background health loop
// and, when configured, the debug endpoint.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDestroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case StateInitializing, StateReady:
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.state = StateInitializing
	c.mu.Unlock()

	_, span := c.tracer.Start(ctx, "tilewire.Initialize")
	defer span.End()

	persist, err := c.buildPersistence()
	if err != nil {
		c.mu.Lock()
		c.state = StateUninitialized
		c.mu.Unlock()
		return err
	}

	c.conn = connection.NewManager(c.cfg.Connection,
		append([]connection.Option{
			connection.WithClock(c.clock),
			connection.WithLogger(c.log.With().Str("component", "connection").Logger()),
		}, c.connOpts...)...)

	c.store = gamestate.NewStore(c.conn,
		gamestate.WithClock(c.clock),
		gamestate.WithLogger(c.log.With().Str("component", "gamestate").Logger()))

	c.coord = recovery.NewCoordinator(c.cfg.Recovery, c.conn, c.store,
		recovery.WithClock(c.clock),
		recovery.WithLogger(c.log.With().Str("component", "recovery").Logger()),
		recovery.WithStore(persist),
		recovery.WithSnapshotFunc(c.snapshotState))

	c.wireEvents()

	c.mu.Lock()
	c.stop = make(chan struct{})
	stop := c.stop
	c.state = StateReady
	c.mu.Unlock()
	go c.healthLoop(stop)

	if c.cfg.DebugAddr != "" {
		c.debug = newDebugServer(c, c.cfg.DebugAddr)
		c.debug.start()
	}

	c.log.Info().Str("server_url", c.cfg.ServerURL).Msg("client initialized")
	return nil
}

func (c *Client) buildPersistence() (recovery.Store, error) {
	if c.recStore != nil {
		return c.recStore, nil
	}
	if c.cfg.StorageDir == "" {
		return recovery.NewMemoryStore(), nil
	}
	fs, err := recovery.NewFileStore(c.cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("tilewire: recovery storage: %w", err)
	}
	return fs, nil
}

// snapshotState serializes the current game state for recovery snapshots.
func (c *Client) snapshotState(string) ([]byte, error) {
	c.met.snapshotsTotal.Inc()
	return json.Marshal(c.store.GetState())
}

// wireEvents routes transport and recovery notifications into the state
// store and the error pipeline.
func (c *Client) wireEvents() {
	sub := func(kind string, fn connection.Listener) {
		c.unsubs = append(c.unsubs, c.conn.Events().Subscribe(kind, fn))
	}

	sub(connection.KindMessage, c.routeEnvelope)
	sub(connection.KindReconnected, func(ev connection.Event) {
		c.met.reconnects.Inc()
		c.store.SetConnected(true, "reconnected")
		c.coord.HandleReconnected(ev.RoomID)
	})
	sub(connection.KindDisconnected, func(ev connection.Event) {
		c.store.SetConnected(false, "connection_lost")
		if ev.Err != nil {
			// The manager reconnects on its own; record only.
			c.recordError(&ServiceError{
				Type: ErrorConnectionFailed, Severity: SeverityLow,
				Message: ev.Err.Error(), Source: "connection",
				Context: map[string]any{"room_id": ev.RoomID},
			})
		}
	})
	sub(connection.KindReconnectionFailed, func(ev connection.Event) {
		msg := "reconnect attempts exhausted"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		c.recordError(&ServiceError{
			Type: ErrorReconnectExhausted, Severity: SeverityHigh,
			Message: msg, Source: "connection",
			Context: map[string]any{"room_id": ev.RoomID},
		})
	})

	c.unsubs = append(c.unsubs, c.coord.Notify(func(ev recovery.Event) {
		switch ev.Kind {
		case recovery.KindGapDetected:
			c.met.gapsDetected.Inc()
			c.recordError(&ServiceError{
				Type: ErrorSequenceGap, Severity: SeverityLow,
				Message: fmt.Sprintf("missing sequences %d..%d", ev.Gap.Start, ev.Gap.End),
				Source:  "recovery",
				Context: map[string]any{"room_id": ev.RoomID},
			})
		case recovery.KindRecoveryCompleted:
			c.met.recoveries.WithLabelValues("completed").Inc()
		case recovery.KindRecoveryFailed:
			c.met.recoveries.WithLabelValues("failed").Inc()
			msg := "recovery retries exhausted"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			c.recordError(&ServiceError{
				Type: ErrorRecoveryFailed, Severity: SeverityHigh,
				Message: msg, Source: "recovery",
				Context: map[string]any{"room_id": ev.RoomID},
			})
		}
	}))
}

// routeEnvelope dispatches one inbound envelope. Sequenced events go
// through the recovery coordinator into the store; transport control
// messages are handled here.
func (c *Client) routeEnvelope(ev connection.Event) {
	env := ev.Envelope
	if env == nil {
		return
	}
	switch env.Event {
	case protocol.EventPong:
		if ev.Latency > 0 {
			c.met.latencyMillis.Set(float64(ev.Latency.Milliseconds()))
		}
	case protocol.EventRecoveryResponse:
		var resp protocol.RecoveryResponse
		if err := env.DecodeData(&resp); err != nil {
			c.recordError(&ServiceError{
				Type: ErrorGameState, Severity: SeverityMedium,
				Message: fmt.Sprintf("bad recovery response: %v", err), Source: "recovery",
				Context: map[string]any{"room_id": ev.RoomID},
			})
			return
		}
		c.coord.HandleRecoveryResponse(ev.RoomID, resp)
	case protocol.EventRoomNotFound, protocol.EventCriticalError:
		c.sessionFatal(ev.RoomID, env)
	default:
		if !env.Sequenced() {
			c.store.Apply(env)
			return
		}
		c.met.eventsReceived.Inc()
		applied, err := c.coord.RecordEvent(ev.RoomID, env)
		if err != nil {
			c.recordError(&ServiceError{
				Type: ErrorInternal, Severity: SeverityMedium,
				Message: err.Error(), Source: "recovery",
				Context: map[string]any{"room_id": ev.RoomID, "sequence": env.Sequence},
			})
			return
		}
		if !applied {
			c.met.eventsDeduped.Inc()
		}
	}
}

// sessionFatal ends the room session: the server told us the room is gone
// or hit an unrecoverable error. The state keeps the error for the UI;
// transport and recovery tracking are torn down.
func (c *Client) sessionFatal(roomID string, env *protocol.Envelope) {
	c.store.Apply(env)
	c.recordError(&ServiceError{
		Type: ErrorSessionFatal, Severity: SeverityCritical,
		Message: fmt.Sprintf("server ended session: %s", env.Event), Source: "connection",
		Context: map[string]any{"room_id": roomID},
	})
	c.conn.Disconnect(roomID, true)
	c.coord.CleanupRoom(roomID)
	c.mu.Lock()
	if c.activeRoom == roomID {
		c.activeRoom = ""
	}
	c.mu.Unlock()
}

// JoinRoom starts recovery tracking for the room and connects to it.
func (c *Client) JoinRoom(ctx context.Context, roomID, playerName string) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	ctx, span := c.tracer.Start(ctx, "tilewire.JoinRoom",
		trace.WithAttributes(attribute.String("room_id", roomID)))
	defer span.End()

	if err := c.coord.InitializeRoom(roomID); err != nil {
		return err
	}
	if err := c.store.JoinRoom(ctx, roomID, playerName); err != nil {
		c.recordError(&ServiceError{
			Type: ErrorConnectionFailed, Severity: SeverityHigh,
			Message: err.Error(), Source: "connection",
			Context: map[string]any{"room_id": roomID},
		})
		return err
	}
	c.mu.Lock()
	c.activeRoom = roomID
	c.mu.Unlock()
	c.log.Info().Str("room_id", roomID).Str("player", playerName).Msg("joined room")
	return nil
}

// LeaveRoom disconnects from the active room. Recovery tracking is kept
// while the game is mid-round so a rejoin can resume.
func (c *Client) LeaveRoom() {
	if err := c.requireReady(); err != nil {
		return
	}
	c.mu.Lock()
	roomID := c.activeRoom
	c.activeRoom = ""
	c.mu.Unlock()
	if roomID == "" {
		return
	}
	c.store.LeaveRoom()
	if c.store.GetState().RoomID == "" {
		// The store reset, so the session is over for good.
		c.coord.CleanupRoom(roomID)
	}
	c.log.Info().Str("room_id", roomID).Msg("left room")
}

// recordError runs an error through the history, metrics, alarm, and the
// per-type handling strategy.
func (c *Client) recordError(serr *ServiceError) {
	if serr.Timestamp.IsZero() {
		serr.Timestamp = c.clock.Now()
	}
	c.log.Error().
		Str("type", string(serr.Type)).
		Str("severity", serr.Severity.String()).
		Str("source", serr.Source).
		Msg(serr.Message)
	c.met.errorsTotal.WithLabelValues(string(serr.Type)).Inc()

	if tripped := c.errs.record(serr); tripped {
		c.met.alarmsTotal.Inc()
		c.log.Error().Int("threshold", c.cfg.AlarmThreshold).
			Dur("window", c.cfg.AlarmWindow).Msg("error burst alarm tripped")
	}

	if serr.Severity > SeverityLow {
		go c.applyStrategies(serr)
	}
}

// applyStrategies runs the handling strategies mapped to the error type.
// Unmapped types run every strategy, cheapest first.
func (c *Client) applyStrategies(serr *ServiceError) {
	c.mu.Lock()
	roomID := c.activeRoom
	c.mu.Unlock()
	if roomID == "" {
		return
	}

	type strategy struct {
		name string
		run  func(string) error
	}
	var plan []strategy
	switch serr.Type {
	case ErrorConnectionFailed, ErrorReconnectExhausted:
		plan = []strategy{{"reconnect", c.reconnectRoom}}
	case ErrorSequenceGap:
		plan = []strategy{{"trigger_recovery", c.triggerRecovery}}
	case ErrorGameState, ErrorRecoveryFailed:
		plan = []strategy{{"request_state_sync", c.requestStateSync}}
	case ErrorSessionFatal:
		return // teardown already happened
	default:
		plan = []strategy{
			{"trigger_recovery", c.triggerRecovery},
			{"request_state_sync", c.requestStateSync},
			{"reconnect", c.reconnectRoom},
		}
	}

	for _, s := range plan {
		if err := s.run(roomID); err != nil {
			c.log.Warn().Err(err).Str("strategy", s.name).
				Str("type", string(serr.Type)).Msg("error strategy failed")
		} else {
			c.log.Info().Str("strategy", s.name).
				Str("type", string(serr.Type)).Msg("error strategy applied")
		}
	}
}

// reconnectRoom re-dials the active room after the manager gave up on its
// own reconnect schedule.
func (c *Client) reconnectRoom(roomID string) error {
	s := c.store.GetState()
	if s.PlayerName == "" {
		return fmt.Errorf("tilewire: no player identity for %s", roomID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Connection.ConnectTimeout)
	defer cancel()
	if err := c.conn.Connect(ctx, roomID, connection.PlayerInfo{Name: s.PlayerName}); err != nil {
		return err
	}
	c.store.SetConnected(true, "reconnected")
	c.coord.HandleReconnected(roomID)
	return nil
}

func (c *Client) triggerRecovery(roomID string) error {
	c.coord.StartRecovery(roomID)
	return nil
}

func (c *Client) requestStateSync(roomID string) error {
	_, err := c.conn.Send(roomID, protocol.EventRequestStateSync,
		protocol.StateSyncRequest{RoomID: roomID})
	return err
}

// EmergencyReset tears every service down to a clean slate while leaving
// the client ready for a fresh JoinRoom. The last resort when state and
// server have diverged beyond repair.
func (c *Client) EmergencyReset(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	_, span := c.tracer.Start(ctx, "tilewire.EmergencyReset")
	defer span.End()
	c.log.Warn().Msg("emergency reset")

	c.mu.Lock()
	roomID := c.activeRoom
	c.activeRoom = ""
	c.mu.Unlock()

	if roomID != "" {
		c.conn.Disconnect(roomID, true)
		c.coord.CleanupRoom(roomID)
	}
	c.store.Reset()
	c.errs.reset()
	c.met.healthUnhealthy.Set(0)
	return nil
}

// Errors returns up to n recent service errors, newest first.
func (c *Client) Errors(n int) []*ServiceError { return c.errs.recent(n) }

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Store returns the game state store. Nil before Initialize.
func (c *Client) Store() *gamestate.Store { return c.store }

// Connection returns the connection manager. Nil before Initialize.
func (c *Client) Connection() *connection.Manager { return c.conn }

// Recovery returns the recovery coordinator. Nil before Initialize.
func (c *Client) Recovery() *recovery.Coordinator { return c.coord }

func (c *Client) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		return nil
	case StateDestroyed:
		return ErrDestroyed
	default:
		return ErrNotReady
	}
}

// Destroy stops background work and closes every connection. The client
// cannot be reused afterwards.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = StateDestroyed
	stop := c.stop
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if c.debug != nil {
		c.debug.stop()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.log.Info().Msg("client destroyed")
}
