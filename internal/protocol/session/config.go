package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	// SessionDeadAfter is the read idle deadline; zero disables it.
	SessionDeadAfter time.Duration
	Backoff          BackoffConfig
}

// DefaultConfig returns session defaults sized for a 30 Hz state stream.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		WriteTimeout:      2 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		SessionDeadAfter:  10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset timeouts from DefaultConfig.
// SessionDeadAfter is left alone so callers can keep it disabled.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
