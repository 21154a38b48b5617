package gamestate

import "github.com/tilewire-dev/tilewire/pkg/protocol"

// maxPlaySize is the largest number of pieces a single play may contain.
const maxPlaySize = 6

// declarationLimit is the per-player declaration ceiling; the sum of all
// declarations in a round must also differ from it.
const declarationLimit = 8

// derive recomputes every derived field from the base state. Called after
// each reducer so the derived fields can never drift.
func derive(s *GameState) {
	s.IsMyTurn = computeIsMyTurn(s)
	s.AllowedActions = computeAllowedActions(s)
	s.ValidOptions = computeValidOptions(s)
}

func computeIsMyTurn(s *GameState) bool {
	if s.PlayerName == "" || s.GameOver {
		return false
	}
	switch s.Phase {
	case protocol.PhasePreparation:
		return s.CurrentWeakPlayer != "" && s.CurrentWeakPlayer == s.PlayerName
	case protocol.PhaseDeclaration:
		return s.CurrentDeclarer == s.PlayerName
	case protocol.PhaseTurn:
		return s.CurrentPlayer == s.PlayerName
	default:
		return false
	}
}

func computeAllowedActions(s *GameState) []Action {
	if s.GameOver {
		return nil
	}
	switch s.Phase {
	case protocol.PhasePreparation:
		if s.IsMyTurn {
			return []Action{ActionAcceptRedeal, ActionDeclineRedeal}
		}
	case protocol.PhaseDeclaration:
		if s.IsMyTurn {
			return []Action{ActionMakeDeclaration}
		}
	case protocol.PhaseTurn:
		if s.IsMyTurn {
			return []Action{ActionPlayPieces}
		}
	case protocol.PhaseScoring:
		if s.Host != "" && s.Host == s.PlayerName {
			return []Action{ActionStartNextRound}
		}
	}
	return nil
}

func computeValidOptions(s *GameState) ValidOptions {
	var opts ValidOptions
	switch s.Phase {
	case protocol.PhaseDeclaration:
		if s.IsMyTurn {
			opts.DeclarationValues = validDeclarationValues(s.declarationTotal(), s.isLastDeclarer())
		}
	case protocol.PhaseTurn:
		if s.IsMyTurn {
			opts.PlayCombinations = validPlayCombinations(len(s.Hand), s.RequiredPieceCount)
		}
	}
	return opts
}

// validDeclarationValues returns the legal declaration values given the
// running total. The last declarer may not bring the round total to
// exactly declarationLimit.
func validDeclarationValues(total int, last bool) []int {
	values := make([]int, 0, declarationLimit+1)
	for v := 0; v <= declarationLimit; v++ {
		if last && total+v == declarationLimit {
			continue
		}
		values = append(values, v)
	}
	return values
}

// validPlayCombinations enumerates the index combinations a player may
// play from a hand of the given size. With a required count in force only
// combinations of exactly that size are legal; otherwise every size from
// one through min(maxPlaySize, handSize) is.
func validPlayCombinations(handSize, required int) [][]int {
	if handSize == 0 {
		return nil
	}
	if required > 0 {
		if required > handSize {
			return nil
		}
		return combinations(handSize, required)
	}
	limit := maxPlaySize
	if handSize < limit {
		limit = handSize
	}
	var out [][]int
	for k := 1; k <= limit; k++ {
		out = append(out, combinations(handSize, k)...)
	}
	return out
}

// combinations returns all k-element index subsets of [0, n) in
// lexicographic order.
func combinations(n, k int) [][]int {
	if k <= 0 || k > n {
		return nil
	}
	var (
		out  [][]int
		cur  = make([]int, 0, k)
		walk func(start int)
	)
	walk = func(start int) {
		if len(cur) == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		// Not enough remaining indices to complete the subset.
		for i := start; i <= n-(k-len(cur)); i++ {
			cur = append(cur, i)
			walk(i + 1)
			cur = cur[:len(cur)-1]
		}
	}
	walk(0)
	return out
}
