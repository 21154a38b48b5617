package recovery

import "time"

// Config controls gap handling, snapshot cadence, and the recovery
// request retry policy.
type Config struct {
	// SnapshotInterval is the number of applied events between state
	// snapshots. Snapshots are only taken while no gap is outstanding.
	SnapshotInterval int

	// MaxSnapshots bounds the per-room snapshot ring; oldest evicted.
	MaxSnapshots int

	// MaxTrackedEvents bounds the per-room (sequence, id) dedup record.
	MaxTrackedEvents int

	// AutoRecoverGap is the gap width at which recovery starts without
	// waiting for an external trigger.
	AutoRecoverGap int

	// MaxRetries is the number of recovery requests sent before the
	// attempt is reported failed.
	MaxRetries int

	// RetryBackoff is the base wait between recovery attempts; the wait
	// grows linearly (backoff, 2*backoff, ...).
	RetryBackoff time.Duration

	// RequestTimeout is how long one recovery request waits for a
	// complete response.
	RequestTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: 50,
		MaxSnapshots:     10,
		MaxTrackedEvents: 200,
		AutoRecoverGap:   5,
		MaxRetries:       3,
		RetryBackoff:     2 * time.Second,
		RequestTimeout:   10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = d.MaxSnapshots
	}
	if c.MaxTrackedEvents <= 0 {
		c.MaxTrackedEvents = d.MaxTrackedEvents
	}
	if c.AutoRecoverGap <= 0 {
		c.AutoRecoverGap = d.AutoRecoverGap
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}
