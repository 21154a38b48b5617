package protocol

// Phase is one stage of the per-round game state machine.
type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhasePreparation Phase = "preparation"
	PhaseDeclaration Phase = "declaration"
	PhaseTurn        Phase = "turn"
	PhaseTurnResults Phase = "turn_results"
	PhaseScoring     Phase = "scoring"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseWaiting, PhasePreparation, PhaseDeclaration, PhaseTurn, PhaseTurnResults, PhaseScoring:
		return true
	}
	return false
}

// InRound reports whether p is part of an active round. Leaving a room
// during an in-round phase preserves local state for reconnection instead
// of resetting it.
func (p Phase) InRound() bool {
	switch p {
	case PhaseDeclaration, PhaseTurn, PhaseTurnResults:
		return true
	}
	return false
}

// String returns the wire name of the phase.
func (p Phase) String() string { return string(p) }
