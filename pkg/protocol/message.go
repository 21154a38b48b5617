package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Envelope errors.
var (
	ErrEmptyEvent      = errors.New("protocol: empty event name")
	ErrInvalidEnvelope = errors.New("protocol: invalid envelope")
)

// Envelope is the wire format for every message in either direction.
type Envelope struct {
	// Event is the event name (see the event vocabulary in the package doc).
	Event string `json:"event"`

	// Data is the event payload, left raw until typed decoding.
	Data json.RawMessage `json:"data,omitempty"`

	// Sequence is the per-room monotonic counter, starting at 1.
	// Zero means unsequenced (transport chatter such as ping/pong).
	Sequence uint64 `json:"sequence"`

	// Timestamp is epoch milliseconds at send time.
	Timestamp int64 `json:"timestamp"`

	// ID is a UUID identifying this message for de-duplication.
	ID string `json:"id"`
}

// NewEnvelope builds an outbound envelope with a fresh UUID.
// The data value is marshaled immediately so a later mutation of the
// caller's value cannot change what goes on the wire.
func NewEnvelope(event string, data any, sequence uint64, now time.Time) (*Envelope, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &Envelope{
		Event:     event,
		Data:      raw,
		Sequence:  sequence,
		Timestamp: now.UnixMilli(),
		ID:        uuid.NewString(),
	}, nil
}

// Encode marshals the envelope to its wire representation.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a wire message into an envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Join(ErrInvalidEnvelope, err)
	}
	if env.Event == "" {
		return nil, ErrEmptyEvent
	}
	return &env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Sequenced reports whether the envelope carries a sequence number.
func (e *Envelope) Sequenced() bool {
	return e.Sequence > 0
}

// SentAt returns the envelope timestamp as a time.Time.
func (e *Envelope) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}
