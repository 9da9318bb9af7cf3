package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultPath is where botgate looks for its config file.
const DefaultPath = "~/.botgate/config.json"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MaxReconnectAttempts: 120,
			HeartbeatFallbackSec: 45,
			QueueSize:            256,
			ShardID:              0,
			ShardCount:           1,
		},
		Reply: ReplyConfig{
			MaxPerMessage:      4,
			WindowSec:          300,
			GenerateTimeoutSec: 120,
		},
		Stream: StreamConfig{
			MinSendIntervalMS: 1000,
			KeepaliveDelaySec: 5,
			KeepaliveGapSec:   15,
			MaxKeepalives:     4,
			MaxDurationSec:    180,
		},
		Sessions: SessionsConfig{
			Backend:         "file",
			Storage:         "~/.botgate/sessions",
			SaveIntervalSec: 10,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "botgate",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) ApplyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("BOTGATE_APP_ID", &c.Account.AppID)
	envStr("BOTGATE_CLIENT_SECRET", &c.Account.ClientSecret)
	envStr("BOTGATE_API_BASE", &c.Account.APIBase)
	envBool("BOTGATE_SANDBOX", &c.Account.Sandbox)

	envInt("BOTGATE_QUEUE_SIZE", &c.Gateway.QueueSize)
	envInt("BOTGATE_MAX_RECONNECT_ATTEMPTS", &c.Gateway.MaxReconnectAttempts)

	envInt("BOTGATE_REPLY_MAX", &c.Reply.MaxPerMessage)
	envInt("BOTGATE_REPLY_WINDOW_SEC", &c.Reply.WindowSec)
	envInt("BOTGATE_GENERATE_TIMEOUT_SEC", &c.Reply.GenerateTimeoutSec)

	envStr("BOTGATE_SESSIONS_BACKEND", &c.Sessions.Backend)
	envStr("BOTGATE_SESSIONS_STORAGE", &c.Sessions.Storage)

	envBool("BOTGATE_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("BOTGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BOTGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BOTGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("BOTGATE_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	envStr("BOTGATE_LOG_LEVEL", &c.Log.Level)
	envStr("BOTGATE_LOG_FORMAT", &c.Log.Format)
}

// Validate checks the fields the run command cannot work without.
func (c *Config) Validate() error {
	if c.Account.AppID == "" {
		return fmt.Errorf("config: account.app_id is required (or BOTGATE_APP_ID)")
	}
	if c.Account.ClientSecret == "" {
		return fmt.Errorf("config: BOTGATE_CLIENT_SECRET is required")
	}
	switch c.Sessions.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown sessions backend %q", c.Sessions.Backend)
	}
	return nil
}

// Save writes the config file. The client secret carries a json:"-"
// tag, so secrets never persist to disk.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// StoragePath returns the expanded sessions storage location.
func (c *Config) StoragePath() string {
	return ExpandHome(c.Sessions.Storage)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
