package session

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff paces one sequence of reconnect attempts. It is not safe for
// concurrent use; each dialer owns its own.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	retries int
}

// NewBackoff starts a sequence. A nil rng seeds one from the clock.
func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Backoff{cfg: cfg, rng: rng}
}

// Retries reports how many delays have been handed out since the last Reset.
func (b *Backoff) Retries() int { return b.retries }

func (b *Backoff) Reset() { b.retries = 0 }

// Next returns the delay before the following attempt and advances the sequence.
// The ceiling grows geometrically up to MaxDelay; with jitter the delay is drawn
// from the upper half of the ceiling so it never exceeds MaxDelay.
func (b *Backoff) Next() time.Duration {
	ceiling := b.ceiling(b.retries)
	b.retries++
	if ceiling <= 0 || !b.cfg.Jitter {
		return ceiling
	}
	half := ceiling / 2
	return half + time.Duration(b.rng.Int63n(int64(ceiling-half)+1))
}

// Wait sleeps for Next or until ctx ends.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Backoff) ceiling(retry int) time.Duration {
	if b.cfg.InitialDelay <= 0 {
		return 0
	}
	d := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.Multiplier, float64(retry))
	if b.cfg.MaxDelay > 0 && d > float64(b.cfg.MaxDelay) {
		return b.cfg.MaxDelay
	}
	return time.Duration(d)
}
