package tilewire

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tilewire-dev/tilewire/pkg/connection"
	"github.com/tilewire-dev/tilewire/pkg/recovery"
)

// Config is the top-level client configuration.
type Config struct {
	// ServerURL is the base ws:// or wss:// URL of the game server.
	ServerURL string

	// StorageDir, when set, persists recovery records to disk so a
	// restarted client can resume from its last snapshot. Empty keeps
	// them in memory.
	StorageDir string

	// DebugAddr, when set, serves /healthz, /errors, and /metrics on
	// this address.
	DebugAddr string

	// HealthInterval is the cadence of the background health check.
	HealthInterval time.Duration

	// RecoverOnUnhealthy makes a failed health check start recovery for
	// the active room when gaps are outstanding.
	RecoverOnUnhealthy bool

	// ErrorHistorySize bounds the retained error history.
	ErrorHistorySize int

	// AlarmThreshold is the number of errors within AlarmWindow that
	// trips the burst alarm.
	AlarmThreshold int
	AlarmWindow    time.Duration

	// Connection tunes the per-room transport.
	Connection *connection.Config

	// Recovery tunes gap handling and snapshots.
	Recovery recovery.Config
}

// DefaultConfig returns the production defaults. ServerURL must still be
// set by the caller.
func DefaultConfig() Config {
	return Config{
		HealthInterval:   30 * time.Second,
		ErrorHistorySize: 100,
		AlarmThreshold:   10,
		AlarmWindow:      time.Minute,
		Connection:       connection.DefaultConfig(),
		Recovery:         recovery.DefaultConfig(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.ErrorHistorySize <= 0 {
		c.ErrorHistorySize = d.ErrorHistorySize
	}
	if c.AlarmThreshold <= 0 {
		c.AlarmThreshold = d.AlarmThreshold
	}
	if c.AlarmWindow <= 0 {
		c.AlarmWindow = d.AlarmWindow
	}
	if c.Connection == nil {
		c.Connection = connection.DefaultConfig()
	}
	if c.Connection.BaseURL == "" {
		c.Connection.BaseURL = c.ServerURL
	}
	return c
}

// fileConfig is the YAML schema. Durations are strings ("30s", "1m")
// because yaml.v3 does not decode into time.Duration.
type fileConfig struct {
	ServerURL          string `yaml:"server_url"`
	StorageDir         string `yaml:"storage_dir"`
	DebugAddr          string `yaml:"debug_addr"`
	HealthInterval     string `yaml:"health_interval"`
	RecoverOnUnhealthy bool   `yaml:"recover_on_unhealthy"`
	ErrorHistorySize   int    `yaml:"error_history_size"`
	AlarmThreshold     int    `yaml:"alarm_threshold"`
	AlarmWindow        string `yaml:"alarm_window"`

	Connection struct {
		BaseURL              string  `yaml:"base_url"`
		ConnectTimeout       string  `yaml:"connect_timeout"`
		WriteTimeout         string  `yaml:"write_timeout"`
		HeartbeatInterval    string  `yaml:"heartbeat_interval"`
		MaxMessageSize       int64   `yaml:"max_message_size"`
		MaxQueueSize         int     `yaml:"max_queue_size"`
		MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`
		JitterFraction       float64 `yaml:"jitter_fraction"`
	} `yaml:"connection"`

	Recovery struct {
		SnapshotInterval int    `yaml:"snapshot_interval"`
		MaxSnapshots     int    `yaml:"max_snapshots"`
		MaxTrackedEvents int    `yaml:"max_tracked_events"`
		AutoRecoverGap   int    `yaml:"auto_recover_gap"`
		MaxRetries       int    `yaml:"max_retries"`
		RetryBackoff     string `yaml:"retry_backoff"`
		RequestTimeout   string `yaml:"request_timeout"`
	} `yaml:"recovery"`
}

// parseDuration parses s into *out when s is non-empty.
func parseDuration(s, field string, out *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("tilewire: config field %s: %w", field, err)
	}
	*out = d
	return nil
}

// LoadConfig reads a YAML config file. Environment expansion is the
// caller's concern (cmd/tilewire loads .env before this).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tilewire: read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("tilewire: parse config %s: %w", path, err)
	}
	if fc.ServerURL == "" {
		return Config{}, fmt.Errorf("tilewire: config %s: server_url is required", path)
	}

	cfg := DefaultConfig()
	cfg.ServerURL = fc.ServerURL
	cfg.StorageDir = fc.StorageDir
	cfg.DebugAddr = fc.DebugAddr
	cfg.RecoverOnUnhealthy = fc.RecoverOnUnhealthy
	if fc.ErrorHistorySize > 0 {
		cfg.ErrorHistorySize = fc.ErrorHistorySize
	}
	if fc.AlarmThreshold > 0 {
		cfg.AlarmThreshold = fc.AlarmThreshold
	}

	conn := cfg.Connection
	conn.BaseURL = fc.Connection.BaseURL
	if fc.Connection.MaxMessageSize > 0 {
		conn.MaxMessageSize = fc.Connection.MaxMessageSize
	}
	if fc.Connection.MaxQueueSize > 0 {
		conn.MaxQueueSize = fc.Connection.MaxQueueSize
	}
	if fc.Connection.MaxReconnectAttempts > 0 {
		conn.MaxReconnectAttempts = fc.Connection.MaxReconnectAttempts
	}
	if fc.Connection.JitterFraction > 0 {
		conn.JitterFraction = fc.Connection.JitterFraction
	}

	rec := &cfg.Recovery
	if fc.Recovery.SnapshotInterval > 0 {
		rec.SnapshotInterval = fc.Recovery.SnapshotInterval
	}
	if fc.Recovery.MaxSnapshots > 0 {
		rec.MaxSnapshots = fc.Recovery.MaxSnapshots
	}
	if fc.Recovery.MaxTrackedEvents > 0 {
		rec.MaxTrackedEvents = fc.Recovery.MaxTrackedEvents
	}
	if fc.Recovery.AutoRecoverGap > 0 {
		rec.AutoRecoverGap = fc.Recovery.AutoRecoverGap
	}
	if fc.Recovery.MaxRetries > 0 {
		rec.MaxRetries = fc.Recovery.MaxRetries
	}

	for _, p := range []struct {
		raw   string
		field string
		out   *time.Duration
	}{
		{fc.HealthInterval, "health_interval", &cfg.HealthInterval},
		{fc.AlarmWindow, "alarm_window", &cfg.AlarmWindow},
		{fc.Connection.ConnectTimeout, "connection.connect_timeout", &conn.ConnectTimeout},
		{fc.Connection.WriteTimeout, "connection.write_timeout", &conn.WriteTimeout},
		{fc.Connection.HeartbeatInterval, "connection.heartbeat_interval", &conn.HeartbeatInterval},
		{fc.Recovery.RetryBackoff, "recovery.retry_backoff", &rec.RetryBackoff},
		{fc.Recovery.RequestTimeout, "recovery.request_timeout", &rec.RequestTimeout},
	} {
		if err := parseDuration(p.raw, p.field, p.out); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}
