package connection

import "github.com/tilewire-dev/tilewire/pkg/protocol"

// outboundQueue is a bounded FIFO of envelopes awaiting delivery. When full,
// pushing drops the oldest entry; the caller logs the drop. Not safe for
// concurrent use; the owning room connection holds its lock.
type outboundQueue struct {
	max     int
	entries []*protocol.Envelope
}

func newOutboundQueue(max int) *outboundQueue {
	return &outboundQueue{max: max}
}

// push appends env and reports the envelope evicted to stay within the
// bound, if any.
func (q *outboundQueue) push(env *protocol.Envelope) *protocol.Envelope {
	var dropped *protocol.Envelope
	if len(q.entries) >= q.max {
		dropped = q.entries[0]
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, env)
	return dropped
}

// drain removes and returns all queued envelopes in original order.
func (q *outboundQueue) drain() []*protocol.Envelope {
	out := q.entries
	q.entries = nil
	return out
}

func (q *outboundQueue) len() int { return len(q.entries) }
