// Package connection manages one WebSocket per room.
//
// The Manager owns dialing, the application-level heartbeat, outbound
// sequence numbering, a bounded lossy outbound queue, and reconnection with
// jittered exponential backoff. It emits typed events (connected,
// disconnected, reconnecting, reconnected, connectionFailed,
// reconnectionFailed, message, plus one event per inbound server event name)
// that the state store and recovery coordinator consume.
//
// All timers run on an injected clockwork.Clock so tests drive them with a
// fake clock. Dialing goes through the Dialer interface; production code
// uses the gorilla/websocket dialer via NewGorillaDialer.
package connection
