// Package gamestate holds the authoritative local view of a game room.
//
// The Store is the single source of truth the presentation layer reads. It
// consumes typed server events, applies one reducer per event type, and
// recomputes the derived fields (IsMyTurn, AllowedActions, ValidOptions)
// from scratch after every transition — derived fields are never mutated
// independently.
//
// Writes go through the server: the action methods (AcceptRedeal,
// MakeDeclaration, PlayPieces, ...) validate locally, forward an outbound
// message, and never touch local state. State only changes when the server
// echoes the result back as an event.
//
// Listeners registered with AddListener are notified synchronously, in
// registration order, after each committed transition. A listener must not
// call back into the store from inside its callback.
package gamestate
