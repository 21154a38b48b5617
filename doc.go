// Package tilewire is the client-side realtime synchronization layer for
// multiplayer tile game rooms.
//
// A Client composes the three underlying services and owns their wiring:
//
//   - connection: one WebSocket per room, heartbeat, backed-off reconnects
//   - gamestate: the reducer-driven local view of the room
//   - recovery: sequence-gap detection, dedup, snapshots, and replay
//
// The Client routes every inbound envelope through the recovery
// coordinator into the state store, translates service failures into
// classified errors with per-type handling strategies, keeps a bounded
// error history with a burst alarm, and answers aggregated health checks.
//
// Typical use:
//
//	client, err := tilewire.New(cfg)
//	if err != nil { ... }
//	if err := client.Initialize(ctx); err != nil { ... }
//	defer client.Destroy()
//
//	if err := client.JoinRoom(ctx, "room-42", "alice"); err != nil { ... }
//	client.Store().AddListener(func(s gamestate.GameState) { render(s) })
package tilewire
