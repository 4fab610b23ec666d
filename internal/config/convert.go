package config

import (
	"strings"
	"time"

	"github.com/danmuck/cellsync/internal/node"
)

// ServiceConfig overlays the file values onto node defaults.
func (c NodeConfig) ServiceConfig() (node.ServiceConfig, error) {
	if err := ValidateNodeConfig(c); err != nil {
		return node.ServiceConfig{}, err
	}
	out := node.DefaultServiceConfig()
	role, err := node.ParseRole(c.Role)
	if err != nil {
		return node.ServiceConfig{}, err
	}
	out.Role = role
	if id := strings.TrimSpace(c.ID); id != "" {
		out.NodeID = id
	}
	if v := strings.TrimSpace(c.ListenAddr); v != "" {
		out.ListenAddr = v
	}
	if v := strings.TrimSpace(c.HostAddr); v != "" {
		out.HostAddr = v
	}
	if c.TickRate > 0 {
		out.TickRate = c.TickRate
	}
	out.MaxConnectAttempts = c.MaxConnectAttempts
	if c.DiagnosticsAddr != nil {
		out.DiagnosticsAddr = strings.TrimSpace(*c.DiagnosticsAddr)
	}
	if c.CorsOrigins != nil {
		out.CORSOrigins = c.CorsOrigins
	}
	out.AdminToken = strings.TrimSpace(c.AdminToken)
	out.InputScript = c.InputScript

	// durations were checked by ValidateNodeConfig
	setDuration(&out.StatusInterval, c.StatusInterval)
	setDuration(&out.Session.ConnectTimeout, c.Session.ConnectTimeout)
	setDuration(&out.Session.WriteTimeout, c.Session.WriteTimeout)
	setDuration(&out.Session.SessionDeadAfter, c.Session.IdleTimeout)
	setDuration(&out.Session.Backoff.InitialDelay, c.Session.BackoffInitialDelay)
	setDuration(&out.Session.Backoff.MaxDelay, c.Session.BackoffMaxDelay)
	if c.Session.BackoffJitter != nil {
		out.Session.Backoff.Jitter = *c.Session.BackoffJitter
	}

	if c.Monitor.MaxMessagesPerSecond > 0 {
		out.Monitor.MaxMessagesPerSecond = c.Monitor.MaxMessagesPerSecond
	}
	if c.Monitor.MaxPayloadBytes > 0 {
		out.Monitor.MaxPayloadBytes = c.Monitor.MaxPayloadBytes
	}
	if c.Monitor.MaxAbnormalStreak > 0 {
		out.Monitor.MaxAbnormalStreak = c.Monitor.MaxAbnormalStreak
	}
	setDuration(&out.Monitor.ThrottleDelay, c.Monitor.ThrottleDelay)
	setDuration(&out.Monitor.Window, c.Monitor.Window)

	if c.Netplay.StateRate > 0 {
		out.Netplay.StateInterval = time.Second / time.Duration(c.Netplay.StateRate)
	}
	setDuration(&out.Netplay.HeartbeatInterval, c.Netplay.HeartbeatInterval)
	if c.Netplay.MaxSendFailures > 0 {
		out.Netplay.MaxSendFailures = c.Netplay.MaxSendFailures
	}

	if err := out.Validate(); err != nil {
		return node.ServiceConfig{}, err
	}
	return out, nil
}

func setDuration(dst *time.Duration, raw string) {
	if d, ok, err := parseDuration(raw); err == nil && ok {
		*dst = d
	}
}
