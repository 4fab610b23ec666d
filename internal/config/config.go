package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// NodeConfig is the on-disk node configuration. Unset fields keep node defaults.
type NodeConfig struct {
	ID                 string        `toml:"id"`
	Role               string        `toml:"role"`
	ListenAddr         string        `toml:"listen_addr"`
	HostAddr           string        `toml:"host_addr"`
	TickRate           int           `toml:"tick_rate"`
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	StatusInterval     string        `toml:"status_interval"`
	DiagnosticsAddr    *string       `toml:"diagnostics_addr"`
	CorsOrigins        []string      `toml:"cors_origins"`
	AdminToken         string        `toml:"admin_token"`
	InputScript        []string      `toml:"input_script"`
	Session            SessionConfig `toml:"session"`
	Monitor            MonitorConfig `toml:"monitor"`
	Netplay            NetplayConfig `toml:"netplay"`
}

type SessionConfig struct {
	ConnectTimeout      string `toml:"connect_timeout"`
	WriteTimeout        string `toml:"write_timeout"`
	IdleTimeout         string `toml:"idle_timeout"`
	BackoffInitialDelay string `toml:"backoff_initial_delay"`
	BackoffMaxDelay     string `toml:"backoff_max_delay"`
	BackoffJitter       *bool  `toml:"backoff_jitter"`
}

type MonitorConfig struct {
	MaxMessagesPerSecond float64 `toml:"max_messages_per_second"`
	MaxPayloadBytes      int     `toml:"max_payload_bytes"`
	MaxAbnormalStreak    int     `toml:"max_abnormal_streak"`
	ThrottleDelay        string  `toml:"throttle_delay"`
	Window               string  `toml:"window"`
}

type NetplayConfig struct {
	StateRate         int    `toml:"state_rate"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	MaxSendFailures   int    `toml:"max_send_failures"`
}

// LoadNodeConfig strictly decodes path; unknown keys are errors.
func LoadNodeConfig(path string) (NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := ParseNodeConfig(data)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

func ParseNodeConfig(data []byte) (NodeConfig, error) {
	var cfg NodeConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return NodeConfig{}, fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return NodeConfig{}, err
	}
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// Encode renders cfg as TOML.
func Encode(cfg NodeConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	role := strings.ToLower(strings.TrimSpace(cfg.Role))
	switch role {
	case "host":
		if strings.TrimSpace(cfg.ListenAddr) == "" {
			return fmt.Errorf("node config: host role requires listen_addr")
		}
	case "peer":
		if strings.TrimSpace(cfg.HostAddr) == "" {
			return fmt.Errorf("node config: peer role requires host_addr")
		}
	case "":
		return fmt.Errorf("node config missing role")
	default:
		return fmt.Errorf("node config: unknown role %q", cfg.Role)
	}
	if cfg.TickRate < 0 {
		return fmt.Errorf("node config: tick_rate must be >= 0")
	}
	if cfg.Netplay.StateRate < 0 {
		return fmt.Errorf("node config: netplay.state_rate must be >= 0")
	}
	durations := map[string]string{
		"status_interval":               cfg.StatusInterval,
		"session.connect_timeout":       cfg.Session.ConnectTimeout,
		"session.write_timeout":         cfg.Session.WriteTimeout,
		"session.idle_timeout":          cfg.Session.IdleTimeout,
		"session.backoff_initial_delay": cfg.Session.BackoffInitialDelay,
		"session.backoff_max_delay":     cfg.Session.BackoffMaxDelay,
		"monitor.throttle_delay":        cfg.Monitor.ThrottleDelay,
		"monitor.window":                cfg.Monitor.Window,
		"netplay.heartbeat_interval":    cfg.Netplay.HeartbeatInterval,
	}
	for key, raw := range durations {
		if _, _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("node config: %s: %w", key, err)
		}
	}
	return nil
}

// parseDuration reports set=false for an empty value.
func parseDuration(raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, err
	}
	if d < 0 {
		return 0, false, fmt.Errorf("negative duration %s", raw)
	}
	return d, true, nil
}
