package connection

import (
	"sync"
	"time"

	"github.com/tilewire-dev/tilewire/pkg/protocol"
)

// Lifecycle event kinds emitted by the Manager. Inbound server events are
// additionally emitted under their own event name, and every inbound
// envelope is emitted under KindMessage.
const (
	KindConnected          = "connected"
	KindDisconnected       = "disconnected"
	KindReconnecting       = "reconnecting"
	KindReconnected        = "reconnected"
	KindConnectionFailed   = "connectionFailed"
	KindReconnectionFailed = "reconnectionFailed"
	KindMessage            = "message"
)

// Event is one typed notification from the Manager.
type Event struct {
	Kind     string
	RoomID   string
	Envelope *protocol.Envelope // set for KindMessage and server events
	Err      error              // set for failure kinds
	Attempt  int                // set for KindReconnecting
	Latency  time.Duration      // set when a pong updated latency
}

// Listener receives Manager events.
type Listener func(Event)

type subscription struct {
	id int64
	fn Listener
}

// Emitter is an ordered publish/subscribe dispatcher. Delivery is
// synchronous, in registration order. Listeners must not block.
type Emitter struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string][]subscription
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string][]subscription)}
}

// Subscribe registers fn for the given event kind and returns an
// unsubscribe function.
func (e *Emitter) Subscribe(kind string, fn Listener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[kind] = append(e.subs[kind], subscription{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.subs[kind]
		for i, s := range subs {
			if s.id == id {
				e.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers ev to all listeners registered for ev.Kind.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := e.subs[ev.Kind]
	fns := make([]Listener, len(subs))
	for i, s := range subs {
		fns[i] = s.fn
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
