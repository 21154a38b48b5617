package gamestate

import (
	"fmt"

	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// reduce applies one typed event to a clone of the current state and
// returns the result. Reducers never mutate their input; derived fields
// are recomputed by the caller after the reducer runs.
func reduce(s GameState, ev protocol.GameEvent) GameState {
	ns := s.Clone()
	switch e := ev.(type) {
	case protocol.PhaseChange:
		reducePhaseChange(&ns, e)
	case protocol.WeakHandsFound:
		ns.WeakHands = append([]string(nil), e.Players...)
		ns.CurrentWeakPlayer = e.CurrentWeakPlayer
	case protocol.RedealDecisionNeeded:
		ns.CurrentWeakPlayer = e.Player
	case protocol.RedealExecuted:
		ns.Hand = append([]string(nil), e.Hand...)
		if e.Multiplier > 0 {
			ns.RedealMultiplier = e.Multiplier
		}
		ns.WeakHands = nil
		ns.CurrentWeakPlayer = ""
	case protocol.DeclareRecorded:
		if e.Declarations != nil {
			ns.Declarations = cloneIntMap(e.Declarations)
		} else {
			if ns.Declarations == nil {
				ns.Declarations = make(map[string]int)
			}
			ns.Declarations[e.Player] = e.Value
		}
		ns.CurrentDeclarer = e.CurrentDeclarer
	case protocol.PlayRecorded:
		ns.CurrentTurnPlays = append(ns.CurrentTurnPlays, TurnPlay{
			Player: e.Player,
			Pieces: append([]string(nil), e.Pieces...),
		})
		ns.CurrentPlayer = e.CurrentPlayer
		ns.RequiredPieceCount = e.RequiredCount
		if e.Player == ns.PlayerName {
			ns.Hand = removePieces(ns.Hand, e.Pieces)
		}
	case protocol.TurnComplete:
		ns.LastTurnWinner = e.Winner
		ns.CurrentPlayer = e.NextPlayer
		ns.CurrentTurnPlays = nil
		ns.RequiredPieceCount = 0
	case protocol.TurnResolved:
		ns.LastTurnWinner = e.Winner
	case protocol.ScoreUpdate:
		ns.TotalScores = cloneIntMap(e.Scores)
	case protocol.RoundComplete:
		ns.Round = e.Round
		ns.RoundScores = cloneIntMap(e.RoundScores)
		ns.TotalScores = cloneIntMap(e.TotalScores)
	case protocol.GameEnded:
		ns.GameOver = true
		ns.Winners = append([]string(nil), e.Winners...)
		if e.FinalScores != nil {
			ns.TotalScores = cloneIntMap(e.FinalScores)
		}
	case protocol.PlayerDisconnected:
		setPlayerConnected(ns.Players, e.Player, false)
	case protocol.PlayerReconnected:
		setPlayerConnected(ns.Players, e.Player, true)
	case protocol.HostChanged:
		ns.Host = e.Host
		for i := range ns.Players {
			ns.Players[i].IsHost = ns.Players[i].Name == e.Host
		}
	case protocol.PlayRejected:
		if e.Player == "" || e.Player == ns.PlayerName {
			ns.Error = fmt.Sprintf("play rejected: %s", e.Reason)
		}
	case protocol.CriticalError:
		ns.Error = e.Message
		ns.GameOver = true
	case protocol.GameStarted:
		ns.Players = append([]protocol.Player(nil), e.Players...)
		ns.Round = e.Round
		ns.GameOver = false
		ns.Winners = nil
		for _, p := range e.Players {
			if p.IsHost {
				ns.Host = p.Name
			}
		}
	case protocol.RoomNotFound:
		ns.Error = fmt.Sprintf("room %s not found", e.RoomID)
		ns.Connected = false
	default:
		// Transport-level variants (pong, recovery payloads, unknown
		// names) carry no room state.
	}
	return ns
}

// reducePhaseChange is the only reducer allowed to move the phase. Fields
// the event omits are preserved; per-phase transients are cleared on entry
// to the phase that restarts them.
func reducePhaseChange(ns *GameState, e protocol.PhaseChange) {
	ns.Phase = e.Phase
	if e.Round > 0 {
		ns.Round = e.Round
	}
	if e.Players != nil {
		ns.Players = append([]protocol.Player(nil), e.Players...)
		for _, p := range e.Players {
			if p.IsHost {
				ns.Host = p.Name
			}
		}
	}
	if e.Hand != nil {
		ns.Hand = append([]string(nil), e.Hand...)
	}
	if e.CurrentPlayer != "" {
		ns.CurrentPlayer = e.CurrentPlayer
	}
	if e.Declarations != nil {
		ns.Declarations = cloneIntMap(e.Declarations)
	}
	ns.Error = ""
	switch e.Phase {
	case protocol.PhasePreparation:
		ns.Declarations = nil
		ns.CurrentDeclarer = ""
		ns.CurrentTurnPlays = nil
		ns.RequiredPieceCount = 0
		ns.LastTurnWinner = ""
		ns.RoundScores = nil
		ns.RedealMultiplier = 1
		ns.WeakHands = nil
		ns.CurrentWeakPlayer = ""
	case protocol.PhaseDeclaration:
		if e.Declarations == nil {
			ns.Declarations = make(map[string]int)
		}
		if e.CurrentPlayer != "" {
			ns.CurrentDeclarer = e.CurrentPlayer
		}
	case protocol.PhaseTurn:
		ns.CurrentTurnPlays = nil
		ns.RequiredPieceCount = 0
	}
}

func setPlayerConnected(players []protocol.Player, name string, connected bool) {
	for i := range players {
		if players[i].Name == name {
			players[i].Connected = connected
			return
		}
	}
}

// removePieces removes one occurrence of each played piece from the hand.
func removePieces(hand, played []string) []string {
	out := append([]string(nil), hand...)
	for _, p := range played {
		for i, h := range out {
			if h == p {
				out = append(out[:i], out[i+1:]...)
				break
			}
		}
	}
	return out
}
