package gamestate

import (
	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// Action names one of the store's action methods.
type Action string

const (
	ActionAcceptRedeal    Action = "acceptRedeal"
	ActionDeclineRedeal   Action = "declineRedeal"
	ActionMakeDeclaration Action = "makeDeclaration"
	ActionPlayPieces      Action = "playPieces"
	ActionStartNextRound  Action = "startNextRound"
)

// TurnPlay is one play made during the current turn.
type TurnPlay struct {
	Player string
	Pieces []string
}

// ValidOptions are the currently legal inputs for the phase's action.
// DeclarationValues is populated during declaration, PlayCombinations
// during turn; both are derived and recomputed on every transition.
type ValidOptions struct {
	DeclarationValues []int
	PlayCombinations  [][]int
}

// GameState is the aggregate room state. The fields below the derived
// marker are a pure function of the rest and must never be set directly.
type GameState struct {
	// Connection identity
	RoomID     string
	PlayerName string
	Connected  bool

	// Round state
	Phase              protocol.Phase
	Round              int
	Players            []protocol.Player
	Host               string
	Hand               []string
	WeakHands          []string
	CurrentWeakPlayer  string
	RedealMultiplier   int
	Declarations       map[string]int
	CurrentDeclarer    string
	CurrentTurnPlays   []TurnPlay
	RequiredPieceCount int
	CurrentPlayer      string
	LastTurnWinner     string
	RoundScores        map[string]int
	TotalScores        map[string]int
	GameOver           bool
	Winners            []string

	// Error is the transient, user-visible error string. Non-fatal; the
	// reducer pipeline keeps running.
	Error string

	// LastEventSequence is the sequence of the last applied server event.
	LastEventSequence uint64

	// Derived fields — recomputed by derive() after every transition.
	IsMyTurn       bool
	AllowedActions []Action
	ValidOptions   ValidOptions
}

// initialState returns the zero-value room state.
func initialState() GameState {
	return GameState{
		Phase:            protocol.PhaseWaiting,
		RedealMultiplier: 1,
	}
}

// Clone returns a deep copy of the state. Reducers operate on clones so a
// committed state value is never mutated afterwards.
func (s GameState) Clone() GameState {
	out := s
	out.Players = append([]protocol.Player(nil), s.Players...)
	out.Hand = append([]string(nil), s.Hand...)
	out.WeakHands = append([]string(nil), s.WeakHands...)
	out.Winners = append([]string(nil), s.Winners...)
	out.Declarations = cloneIntMap(s.Declarations)
	out.RoundScores = cloneIntMap(s.RoundScores)
	out.TotalScores = cloneIntMap(s.TotalScores)
	if s.CurrentTurnPlays != nil {
		out.CurrentTurnPlays = make([]TurnPlay, len(s.CurrentTurnPlays))
		for i, tp := range s.CurrentTurnPlays {
			out.CurrentTurnPlays[i] = TurnPlay{Player: tp.Player, Pieces: append([]string(nil), tp.Pieces...)}
		}
	}
	out.AllowedActions = append([]Action(nil), s.AllowedActions...)
	out.ValidOptions.DeclarationValues = append([]int(nil), s.ValidOptions.DeclarationValues...)
	if s.ValidOptions.PlayCombinations != nil {
		out.ValidOptions.PlayCombinations = make([][]int, len(s.ValidOptions.PlayCombinations))
		for i, c := range s.ValidOptions.PlayCombinations {
			out.ValidOptions.PlayCombinations[i] = append([]int(nil), c...)
		}
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// playerCount returns the roster size.
func (s *GameState) playerCount() int { return len(s.Players) }

// declarationTotal sums the declarations made so far.
func (s *GameState) declarationTotal() int {
	total := 0
	for _, v := range s.Declarations {
		total += v
	}
	return total
}

// isLastDeclarer reports whether the local player is the final player yet
// to declare.
func (s *GameState) isLastDeclarer() bool {
	if s.playerCount() == 0 {
		return false
	}
	if _, done := s.Declarations[s.PlayerName]; done {
		return false
	}
	return len(s.Declarations) == s.playerCount()-1
}
