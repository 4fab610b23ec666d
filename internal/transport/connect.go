package transport

import (
	"context"
	"errors"

	"github.com/danmuck/cellsync/internal/protocol/session"
)

// ConnectWithBackoff retries p.Connect with the session backoff policy until it
// succeeds, ctx ends, or maxAttempts is reached (zero means unlimited).
func ConnectWithBackoff(ctx context.Context, p *Peer, maxAttempts int) error {
	backoff := session.NewBackoff(p.link.cfg.Backoff, nil)
	for attempt := 1; ; attempt++ {
		err := p.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotInitialized) || p.State() == StateDisconnected {
			return err
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}
		p.logger.Debug().Int("attempt", attempt).Err(err).Msg("transport.ConnectWithBackoff retrying")
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}
