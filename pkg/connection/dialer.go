package connection

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the subset of *websocket.Conn the manager needs. Tests provide
// in-memory implementations.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Dialer opens a WebSocket to the given URL.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Socket, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	dialer *websocket.Dialer
}

// NewGorillaDialer returns a Dialer backed by the given gorilla dialer,
// or websocket.DefaultDialer when nil.
func NewGorillaDialer(d *websocket.Dialer) *GorillaDialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return &GorillaDialer{dialer: d}
}

// DialContext opens the connection. The context carries the connect timeout.
func (g *GorillaDialer) DialContext(ctx context.Context, url string) (Socket, error) {
	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
