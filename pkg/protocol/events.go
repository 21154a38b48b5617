package protocol

// Transport event names.
const (
	EventClientReady      = "client_ready"
	EventPing             = "ping"
	EventPong             = "pong"
	EventRequestRecovery  = "request_recovery"
	EventRecoveryResponse = "recovery_response"
	EventRequestStateSync = "request_state_sync"
	EventRoomNotFound     = "room_not_found"
)

// Game event names.
const (
	EventPhaseChange          = "phase_change"
	EventWeakHandsFound       = "weak_hands_found"
	EventRedealDecisionNeeded = "redeal_decision_needed"
	EventRedealExecuted       = "redeal_executed"
	EventDeclare              = "declare"
	EventPlay                 = "play"
	EventTurnComplete         = "turn_complete"
	EventTurnResolved         = "turn_resolved"
	EventScoreUpdate          = "score_update"
	EventRoundComplete        = "round_complete"
	EventGameEnded            = "game_ended"
	EventPlayerDisconnected   = "player_disconnected"
	EventPlayerReconnected    = "player_reconnected"
	EventHostChanged          = "host_changed"
	EventPlayRejected         = "play_rejected"
	EventCriticalError        = "critical_error"
	EventGameStarted          = "game_started"
)

// Client action event names (outbound).
const (
	EventAcceptRedeal    = "accept_redeal"
	EventDeclineRedeal   = "decline_redeal"
	EventMakeDeclaration = "declare"
	EventPlayPieces      = "play"
	EventStartNextRound  = "start_next_round"
)

// Player is one roster entry as reported by the server.
type Player struct {
	Name      string `json:"name"`
	IsHost    bool   `json:"is_host"`
	Connected bool   `json:"connected"`
	Score     int    `json:"score"`
}

// GameEvent is the tagged union of typed inbound events. Every variant
// corresponds to one server event name; the store switches exhaustively
// over the concrete types.
type GameEvent interface {
	// EventName returns the wire event name for this variant.
	EventName() string
}

// PhaseChange moves the room to a new phase. It is the only event allowed
// to change the phase, apart from terminal events.
type PhaseChange struct {
	Phase         Phase          `json:"phase"`
	Round         int            `json:"round"`
	Players       []Player       `json:"players,omitempty"`
	Hand          []string       `json:"hand,omitempty"`
	CurrentPlayer string         `json:"current_player,omitempty"`
	Declarations  map[string]int `json:"declarations,omitempty"`
}

// WeakHandsFound reports players holding weak hands eligible for a redeal.
type WeakHandsFound struct {
	Players           []string `json:"players"`
	CurrentWeakPlayer string   `json:"current_weak_player"`
}

// RedealDecisionNeeded asks the current weak player to accept or decline.
type RedealDecisionNeeded struct {
	Player string `json:"player"`
}

// RedealExecuted replaces hands after an accepted redeal.
type RedealExecuted struct {
	Hand       []string `json:"hand"`
	Multiplier int      `json:"multiplier"`
}

// DeclareRecorded is the server echo of a declaration.
type DeclareRecorded struct {
	Player          string         `json:"player"`
	Value           int            `json:"value"`
	Declarations    map[string]int `json:"declarations"`
	CurrentDeclarer string         `json:"current_declarer"`
}

// PlayRecorded is the server echo of a turn play.
type PlayRecorded struct {
	Player        string   `json:"player"`
	Pieces        []string `json:"pieces"`
	PieceCount    int      `json:"piece_count"`
	CurrentPlayer string   `json:"current_player"`
	RequiredCount int      `json:"required_count"`
}

// TurnComplete closes a turn and names its winner.
type TurnComplete struct {
	Winner     string `json:"winner"`
	PilesWon   int    `json:"piles_won"`
	NextPlayer string `json:"next_player"`
}

// TurnResolved carries the resolved plays of a finished turn.
type TurnResolved struct {
	Winner string              `json:"winner"`
	Plays  map[string][]string `json:"plays"`
}

// ScoreUpdate replaces the running scores.
type ScoreUpdate struct {
	Scores map[string]int `json:"scores"`
}

// RoundComplete ends a round with per-round and cumulative scores.
type RoundComplete struct {
	Round       int            `json:"round"`
	RoundScores map[string]int `json:"round_scores"`
	TotalScores map[string]int `json:"total_scores"`
}

// GameEnded terminates the game.
type GameEnded struct {
	Winners     []string       `json:"winners"`
	FinalScores map[string]int `json:"final_scores"`
}

// PlayerDisconnected marks a roster entry as disconnected.
type PlayerDisconnected struct {
	Player string `json:"player"`
}

// PlayerReconnected marks a roster entry as connected again.
type PlayerReconnected struct {
	Player string `json:"player"`
}

// HostChanged moves host rights to another player.
type HostChanged struct {
	Host string `json:"host"`
}

// PlayRejected reports a server-side rejection of a play.
type PlayRejected struct {
	Player string `json:"player"`
	Reason string `json:"reason"`
}

// CriticalError is an unrecoverable server-side failure; the session ends.
type CriticalError struct {
	Message string `json:"message"`
}

// GameStarted begins the game with the final roster.
type GameStarted struct {
	Players []Player `json:"players"`
	Round   int      `json:"round"`
}

// RoomNotFound means the room no longer exists; the session ends.
type RoomNotFound struct {
	RoomID string `json:"room_id"`
}

// RecoveryRequest asks the server to resend a missing sequence range.
type RecoveryRequest struct {
	RoomID       string `json:"room_id"`
	FromSequence uint64 `json:"from_sequence"`
	ToSequence   uint64 `json:"to_sequence,omitempty"`
}

// StateSyncRequest asks the server for a full authoritative state snapshot.
type StateSyncRequest struct {
	RoomID string `json:"room_id"`
}

// RecoveryResponse carries the missing envelopes for a requested range.
type RecoveryResponse struct {
	StartSequence uint64     `json:"start_sequence"`
	EndSequence   uint64     `json:"end_sequence"`
	Events        []Envelope `json:"events"`
	Complete      bool       `json:"complete"`
}

// Ping is the heartbeat payload; the server echoes ClientTime back in the
// matching Pong.
type Ping struct {
	ClientTime int64 `json:"client_time"`
}

// Pong is the heartbeat echo. ClientTime is the timestamp the client sent
// in the matching ping, used to measure round-trip latency.
type Pong struct {
	ClientTime int64 `json:"client_time"`
}

// UnknownEvent carries an event name this client version does not know.
type UnknownEvent struct {
	Name string
	Data []byte
}

func (PhaseChange) EventName() string          { return EventPhaseChange }
func (WeakHandsFound) EventName() string       { return EventWeakHandsFound }
func (RedealDecisionNeeded) EventName() string { return EventRedealDecisionNeeded }
func (RedealExecuted) EventName() string       { return EventRedealExecuted }
func (DeclareRecorded) EventName() string      { return EventDeclare }
func (PlayRecorded) EventName() string         { return EventPlay }
func (TurnComplete) EventName() string         { return EventTurnComplete }
func (TurnResolved) EventName() string         { return EventTurnResolved }
func (ScoreUpdate) EventName() string          { return EventScoreUpdate }
func (RoundComplete) EventName() string        { return EventRoundComplete }
func (GameEnded) EventName() string            { return EventGameEnded }
func (PlayerDisconnected) EventName() string   { return EventPlayerDisconnected }
func (PlayerReconnected) EventName() string    { return EventPlayerReconnected }
func (HostChanged) EventName() string          { return EventHostChanged }
func (PlayRejected) EventName() string         { return EventPlayRejected }
func (CriticalError) EventName() string        { return EventCriticalError }
func (GameStarted) EventName() string          { return EventGameStarted }
func (RoomNotFound) EventName() string         { return EventRoomNotFound }
func (RecoveryResponse) EventName() string     { return EventRecoveryResponse }
func (Pong) EventName() string                 { return EventPong }
func (e UnknownEvent) EventName() string       { return e.Name }
