package connection

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a room connection.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// String returns the status name.
func (s Status) String() string { return string(s) }

// PlayerInfo identifies the local player when joining a room.
type PlayerInfo struct {
	Name string `json:"name"`
}

// Info is a point-in-time snapshot of a room's connection record.
type Info struct {
	RoomID           string
	Status           Status
	ConnectedAt      time.Time
	LastActivity     time.Time
	MessagesSent     uint64
	MessagesReceived uint64
	Latency          time.Duration
	QueueDepth       int
	ReconnectAttempt int
}

// roomConn is the per-room connection record. It is created by Connect and
// destroyed by Disconnect. gen guards against stale read loops delivering
// events for a socket that has since been replaced.
type roomConn struct {
	mu sync.Mutex

	// writeMu serializes socket writes across Send, the heartbeat loop,
	// and queue replay; gorilla allows at most one concurrent writer.
	writeMu sync.Mutex

	roomID string
	player PlayerInfo

	sock Socket
	gen  int

	status           Status
	connectedAt      time.Time
	lastActivity     time.Time
	sent             uint64
	received         uint64
	latency          time.Duration
	reconnectAttempt int

	seq   uint64
	queue *outboundQueue

	// intentional marks a deliberate Disconnect so the read loop does not
	// start reconnection when the socket closes.
	intentional bool

	// ctx spans the room's lifetime; cancel stops the heartbeat loop and
	// aborts any in-flight reconnect backoff wait.
	ctx    context.Context
	cancel context.CancelFunc
}

// snapshot returns the connection record as an Info value.
func (rc *roomConn) snapshot() Info {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return Info{
		RoomID:           rc.roomID,
		Status:           rc.status,
		ConnectedAt:      rc.connectedAt,
		LastActivity:     rc.lastActivity,
		MessagesSent:     rc.sent,
		MessagesReceived: rc.received,
		Latency:          rc.latency,
		QueueDepth:       rc.queue.len(),
		ReconnectAttempt: rc.reconnectAttempt,
	}
}
