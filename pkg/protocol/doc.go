// Package protocol implements the wire protocol for tilewire.
//
// Every message in either direction travels as a single JSON envelope over a
// text WebSocket message:
//
//	{
//	  "event":     "declare",
//	  "data":      { ... },
//	  "sequence":  42,
//	  "timestamp": 1712345678901,
//	  "id":        "b9a7c3e0-..."
//	}
//
// Sequence numbers are assigned per room, strictly increasing from 1, and
// are the basis for gap detection on the inbound side. The id is a UUID used
// for de-duplication when the server redelivers a message.
//
// # Event vocabulary
//
// Transport-level events: client_ready, ping, pong, request_recovery,
// recovery_response, request_state_sync, room_not_found.
//
// Game events: phase_change, weak_hands_found, redeal_decision_needed,
// redeal_executed, declare, play, turn_complete, turn_resolved, score_update,
// round_complete, game_ended, player_disconnected, player_reconnected,
// host_changed, play_rejected, critical_error, game_started.
//
// # Typed decoding
//
// Inbound envelopes decode into one concrete GameEvent variant via
// DecodeGameEvent, so consumers switch exhaustively over types rather than
// string event names. Unrecognized event names decode to UnknownEvent and
// are carried, not dropped.
package protocol
