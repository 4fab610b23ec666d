// Package testlog routes zerolog output through the test profile and brackets
// each test with start and end lines.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/cellsync/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	start := time.Now()
	log.Info().Str("test", t.Name()).Msg("test start")
	t.Cleanup(func() {
		event := log.Info()
		if t.Failed() {
			event = log.Warn()
		}
		event.Str("test", t.Name()).Dur("elapsed", time.Since(start)).Bool("failed", t.Failed()).Msg("test end")
	})
}
