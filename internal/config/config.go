// Package config defines the botgate configuration file and its
// environment overrides. The file is JSON5 so hand-edited configs can
// carry comments and trailing commas.
package config

import "time"

// Config is the root of the configuration file.
type Config struct {
	Account   AccountConfig   `json:"account"`
	Gateway   GatewayConfig   `json:"gateway"`
	Reply     ReplyConfig     `json:"reply"`
	Stream    StreamConfig    `json:"stream"`
	Sessions  SessionsConfig  `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`
}

// AccountConfig identifies the bot application. The client secret is
// never written to or read from the file; it comes from the
// environment only.
type AccountConfig struct {
	AppID        string `json:"app_id"`
	ClientSecret string `json:"-"`
	APIBase      string `json:"api_base,omitempty"` // empty selects the production endpoint
	Sandbox      bool   `json:"sandbox,omitempty"`
}

// GatewayConfig tunes the socket supervisor.
type GatewayConfig struct {
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`
	HeartbeatFallbackSec int `json:"heartbeat_fallback_sec"`
	QueueSize            int `json:"queue_size"`
	ShardID              int `json:"shard_id"`
	ShardCount           int `json:"shard_count"`
}

// ReplyConfig tunes the passive reply quota and generation deadline.
type ReplyConfig struct {
	MaxPerMessage      int `json:"max_per_message"`
	WindowSec          int `json:"window_sec"`
	GenerateTimeoutSec int `json:"generate_timeout_sec"`
}

// StreamConfig tunes the streaming reply pacer.
type StreamConfig struct {
	MinSendIntervalMS int `json:"min_send_interval_ms"`
	KeepaliveDelaySec int `json:"keepalive_delay_sec"`
	KeepaliveGapSec   int `json:"keepalive_gap_sec"`
	MaxKeepalives     int `json:"max_keepalives"`
	MaxDurationSec    int `json:"max_duration_sec"`
}

// SessionsConfig selects the continuity store backend.
type SessionsConfig struct {
	Backend         string `json:"backend"` // "file" or "sqlite"
	Storage         string `json:"storage"` // directory (file) or database path (sqlite)
	SaveIntervalSec int    `json:"save_interval_sec"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `json:"level"`  // debug|info|warn|error
	Format string `json:"format"` // text|json
}

// GenerateTimeout returns the per-turn deadline as a duration.
func (r ReplyConfig) GenerateTimeout() time.Duration {
	return time.Duration(r.GenerateTimeoutSec) * time.Second
}

// Window returns the passive reply window as a duration.
func (r ReplyConfig) Window() time.Duration {
	return time.Duration(r.WindowSec) * time.Second
}

// SaveInterval returns the throttled persistence interval.
func (s SessionsConfig) SaveInterval() time.Duration {
	return time.Duration(s.SaveIntervalSec) * time.Second
}
