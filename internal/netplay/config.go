package netplay

import "time"

type Config struct {
	// StateInterval is the simulated time between outbound state snapshots.
	StateInterval time.Duration
	// HeartbeatInterval is the simulated time between pings. Zero disables them.
	HeartbeatInterval time.Duration
	AccelerationStep  float32
	ShieldCooldown    float32
	AggressionStep    float32
	// MaxSendFailures consecutive failed sends degrade the adapter.
	MaxSendFailures int
}

func DefaultConfig() Config {
	return Config{
		StateInterval:     time.Second / 30,
		HeartbeatInterval: 2 * time.Second,
		AccelerationStep:  0.5,
		ShieldCooldown:    0.3,
		AggressionStep:    0.1,
		MaxSendFailures:   3,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.StateInterval <= 0 {
		c.StateInterval = def.StateInterval
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 0
	}
	if c.AccelerationStep <= 0 {
		c.AccelerationStep = def.AccelerationStep
	}
	if c.ShieldCooldown <= 0 {
		c.ShieldCooldown = def.ShieldCooldown
	}
	if c.AggressionStep <= 0 {
		c.AggressionStep = def.AggressionStep
	}
	if c.MaxSendFailures <= 0 {
		c.MaxSendFailures = def.MaxSendFailures
	}
	return c
}
