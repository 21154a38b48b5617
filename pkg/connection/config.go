package connection

import "time"

// Config holds configuration for the connection manager.
type Config struct {
	// BaseURL is the WebSocket endpoint prefix; the room socket lives at
	// {BaseURL}/{roomID}. Example: "ws://localhost:8080/ws".
	BaseURL string

	// ConnectTimeout is the maximum time to wait for the dial to complete.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between application-level pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the read limit for inbound WebSocket messages.
	// Default: 64KB.
	MaxMessageSize int64

	// MaxQueueSize bounds the outbound queue. Enqueueing past the bound
	// drops the oldest entry (deliberate lossy policy). Default: 100.
	MaxQueueSize int

	// MaxReconnectAttempts caps reconnection attempts after an
	// unintentional close. Default: 10.
	MaxReconnectAttempts int

	// BackoffSchedule is the per-attempt reconnect delay table. Attempts
	// beyond the table reuse the last entry. Default: 1s 2s 4s 8s 16s 30s.
	BackoffSchedule []time.Duration

	// JitterFraction is the ± fraction applied to each backoff delay.
	// Default: 0.1.
	JitterFraction float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		MaxMessageSize:       64 * 1024,
		MaxQueueSize:         100,
		MaxReconnectAttempts: 10,
		BackoffSchedule: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
		},
		JitterFraction: 0.1,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.BackoffSchedule != nil {
		clone.BackoffSchedule = make([]time.Duration, len(c.BackoffSchedule))
		copy(clone.BackoffSchedule, c.BackoffSchedule)
	}
	return &clone
}

// withDefaults fills zero fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := c.Clone()
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = d.ConnectTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.MaxQueueSize <= 0 {
		out.MaxQueueSize = d.MaxQueueSize
	}
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if len(out.BackoffSchedule) == 0 {
		out.BackoffSchedule = d.BackoffSchedule
	}
	if out.JitterFraction <= 0 {
		out.JitterFraction = d.JitterFraction
	}
	return out
}
