package monitor

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidThresholds = errors.New("monitor: invalid thresholds")

// Thresholds are the detection limits. They may be swapped at runtime with
// Monitor.SetThresholds.
type Thresholds struct {
	MaxMessagesPerSecond float64
	MaxPayloadBytes      int
	MaxAbnormalStreak    int
	ThrottleDelay        time.Duration
	Window               time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxMessagesPerSecond: 100,
		MaxPayloadBytes:      1024,
		MaxAbnormalStreak:    5,
		ThrottleDelay:        50 * time.Millisecond,
		Window:               time.Second,
	}
}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	def := DefaultThresholds()
	if t.MaxMessagesPerSecond <= 0 {
		t.MaxMessagesPerSecond = def.MaxMessagesPerSecond
	}
	if t.MaxPayloadBytes <= 0 {
		t.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if t.MaxAbnormalStreak <= 0 {
		t.MaxAbnormalStreak = def.MaxAbnormalStreak
	}
	if t.ThrottleDelay <= 0 {
		t.ThrottleDelay = def.ThrottleDelay
	}
	if t.Window <= 0 {
		t.Window = def.Window
	}
	return t
}

// Validate rejects negative limits. Zero values are accepted and defaulted.
func (t Thresholds) Validate() error {
	switch {
	case t.MaxMessagesPerSecond < 0:
		return fmt.Errorf("%w: max_messages_per_second=%v", ErrInvalidThresholds, t.MaxMessagesPerSecond)
	case t.MaxPayloadBytes < 0:
		return fmt.Errorf("%w: max_payload_bytes=%d", ErrInvalidThresholds, t.MaxPayloadBytes)
	case t.MaxAbnormalStreak < 0:
		return fmt.Errorf("%w: max_abnormal_streak=%d", ErrInvalidThresholds, t.MaxAbnormalStreak)
	case t.ThrottleDelay < 0:
		return fmt.Errorf("%w: throttle_delay=%s", ErrInvalidThresholds, t.ThrottleDelay)
	case t.Window < 0:
		return fmt.Errorf("%w: window=%s", ErrInvalidThresholds, t.Window)
	}
	return nil
}
