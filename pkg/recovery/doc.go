// Package recovery detects and repairs sequence gaps in the per-room event
// stream.
//
// Every sequenced inbound envelope passes through the Coordinator before it
// reaches the state store. The coordinator applies events immediately
// (apply-then-reconcile), records a gap whenever the sequence jumps past
// the expected value, and asks the server to resend the missing range with
// a request_recovery message. Replayed events flow through the same path;
// (sequence, id) deduplication drops anything already applied.
//
// Periodic snapshots of the serialized game state, persisted through the
// pluggable Store, bound how far back a recovery after restart has to
// reach.
package recovery
