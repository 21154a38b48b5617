package protocol

import (
	"errors"
	"fmt"
)

// ErrBadPayload is returned when an envelope payload does not match the
// shape its event name requires.
var ErrBadPayload = errors.New("protocol: bad event payload")

// DecodeGameEvent turns an inbound envelope into its typed variant.
// Unrecognized event names yield UnknownEvent rather than an error so a
// newer server cannot wedge an older client.
func DecodeGameEvent(env *Envelope) (GameEvent, error) {
	decode := func(v any) error {
		if err := env.DecodeData(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Event, err)
		}
		return nil
	}

	switch env.Event {
	case EventPhaseChange:
		var ev PhaseChange
		if err := decode(&ev); err != nil {
			return nil, err
		}
		if !ev.Phase.Valid() {
			return nil, fmt.Errorf("%w: phase_change: unknown phase %q", ErrBadPayload, ev.Phase)
		}
		return ev, nil
	case EventWeakHandsFound:
		var ev WeakHandsFound
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventRedealDecisionNeeded:
		var ev RedealDecisionNeeded
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventRedealExecuted:
		var ev RedealExecuted
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventDeclare:
		var ev DeclareRecorded
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPlay:
		var ev PlayRecorded
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTurnComplete:
		var ev TurnComplete
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTurnResolved:
		var ev TurnResolved
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventScoreUpdate:
		var ev ScoreUpdate
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventRoundComplete:
		var ev RoundComplete
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventGameEnded:
		var ev GameEnded
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPlayerDisconnected:
		var ev PlayerDisconnected
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPlayerReconnected:
		var ev PlayerReconnected
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventHostChanged:
		var ev HostChanged
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPlayRejected:
		var ev PlayRejected
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventCriticalError:
		var ev CriticalError
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventGameStarted:
		var ev GameStarted
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventRoomNotFound:
		var ev RoomNotFound
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventRecoveryResponse:
		var ev RecoveryResponse
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventPong:
		var ev Pong
		if err := decode(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return UnknownEvent{Name: env.Event, Data: env.Data}, nil
	}
}
