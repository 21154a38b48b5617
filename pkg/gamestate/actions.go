package gamestate

import (
	"errors"
	"fmt"

	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// Validation sentinels. A failed action returns one of these wrapped in a
// *ValidationError; the outbound message is never sent.
var (
	ErrNotConnected = errors.New("gamestate: not connected to a room")
	ErrWrongPhase   = errors.New("gamestate: action not legal in current phase")
	ErrNotYourTurn  = errors.New("gamestate: not your turn")
	ErrPendingError = errors.New("gamestate: pending error must be cleared first")
	ErrNotHost      = errors.New("gamestate: only the host may do this")
	ErrInvalidInput = errors.New("gamestate: invalid action input")
)

// ValidationError describes why an action was rejected locally.
type ValidationError struct {
	Action Action
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gamestate: %s rejected: %s", e.Action, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func reject(action Action, err error, format string, args ...any) error {
	return &ValidationError{Action: action, Reason: fmt.Sprintf(format, args...), Err: err}
}

// AcceptRedeal accepts a redeal offer during preparation.
func (st *Store) AcceptRedeal() error {
	return st.sendDecision(ActionAcceptRedeal, protocol.EventAcceptRedeal)
}

// DeclineRedeal declines a redeal offer during preparation.
func (st *Store) DeclineRedeal() error {
	return st.sendDecision(ActionDeclineRedeal, protocol.EventDeclineRedeal)
}

func (st *Store) sendDecision(action Action, event string) error {
	st.mu.Lock()
	s := st.state.Clone()
	st.mu.Unlock()

	if err := st.baseChecks(action, s, protocol.PhasePreparation); err != nil {
		return err
	}
	if s.CurrentWeakPlayer != s.PlayerName {
		return reject(action, ErrNotYourTurn, "waiting for %s to decide", s.CurrentWeakPlayer)
	}
	return st.forward(action, s.RoomID, event, struct{}{})
}

// MakeDeclaration declares the number of piles the player intends to win.
func (st *Store) MakeDeclaration(value int) error {
	st.mu.Lock()
	s := st.state.Clone()
	st.mu.Unlock()

	if err := st.baseChecks(ActionMakeDeclaration, s, protocol.PhaseDeclaration); err != nil {
		return err
	}
	if s.CurrentDeclarer != s.PlayerName {
		return reject(ActionMakeDeclaration, ErrNotYourTurn, "current declarer is %s", s.CurrentDeclarer)
	}
	if value < 0 || value > declarationLimit {
		return reject(ActionMakeDeclaration, ErrInvalidInput, "value %d outside 0..%d", value, declarationLimit)
	}
	if s.isLastDeclarer() && s.declarationTotal()+value == declarationLimit {
		return reject(ActionMakeDeclaration, ErrInvalidInput,
			"last declarer may not bring the total to %d", declarationLimit)
	}
	return st.forward(ActionMakeDeclaration, s.RoomID, protocol.EventMakeDeclaration,
		map[string]int{"value": value})
}

// PlayPieces plays the pieces at the given hand indices.
func (st *Store) PlayPieces(indices []int) error {
	st.mu.Lock()
	s := st.state.Clone()
	st.mu.Unlock()

	if err := st.baseChecks(ActionPlayPieces, s, protocol.PhaseTurn); err != nil {
		return err
	}
	if s.CurrentPlayer != s.PlayerName {
		return reject(ActionPlayPieces, ErrNotYourTurn, "current player is %s", s.CurrentPlayer)
	}
	if err := validatePlayIndices(indices, len(s.Hand), s.RequiredPieceCount); err != nil {
		return reject(ActionPlayPieces, ErrInvalidInput, "%v", err)
	}
	return st.forward(ActionPlayPieces, s.RoomID, protocol.EventPlayPieces,
		map[string][]int{"indices": indices})
}

// StartNextRound advances the game out of scoring. Host only.
func (st *Store) StartNextRound() error {
	st.mu.Lock()
	s := st.state.Clone()
	st.mu.Unlock()

	if err := st.baseChecks(ActionStartNextRound, s, protocol.PhaseScoring); err != nil {
		return err
	}
	if s.Host != s.PlayerName {
		return reject(ActionStartNextRound, ErrNotHost, "host is %s", s.Host)
	}
	return st.forward(ActionStartNextRound, s.RoomID, protocol.EventStartNextRound, struct{}{})
}

// baseChecks runs the validations shared by every action: an active
// connection, the right phase, and no outstanding error.
func (st *Store) baseChecks(action Action, s GameState, want protocol.Phase) error {
	if s.RoomID == "" || !s.Connected {
		return reject(action, ErrNotConnected, "no active room connection")
	}
	if s.Phase != want {
		return reject(action, ErrWrongPhase, "phase is %s, need %s", s.Phase, want)
	}
	if s.Error != "" {
		return reject(action, ErrPendingError, "pending error: %s", s.Error)
	}
	return nil
}

func validatePlayIndices(indices []int, handSize, required int) error {
	if len(indices) == 0 {
		return errors.New("no pieces selected")
	}
	limit := maxPlaySize
	if handSize < limit {
		limit = handSize
	}
	if required > 0 {
		if len(indices) != required {
			return fmt.Errorf("must play exactly %d pieces, got %d", required, len(indices))
		}
	} else if len(indices) > limit {
		return fmt.Errorf("cannot play more than %d pieces", limit)
	}
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= handSize {
			return fmt.Errorf("index %d outside hand of %d", idx, handSize)
		}
		if seen[idx] {
			return fmt.Errorf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
	return nil
}

// forward sends the validated action to the server. A queued send (socket
// briefly down mid-reconnect) still counts as accepted.
func (st *Store) forward(action Action, roomID, event string, payload any) error {
	if _, err := st.conn.Send(roomID, event, payload); err != nil {
		st.log.Warn().Err(err).Str("action", string(action)).Str("room_id", roomID).
			Msg("action send failed")
		return fmt.Errorf("gamestate: send %s: %w", action, err)
	}
	st.log.Debug().Str("action", string(action)).Str("room_id", roomID).Msg("action sent")
	return nil
}
