package node

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/cellsync/internal/protocol"
)

var ErrUnknownIntent = errors.New("node: unknown input intent")

// InputSource yields the local controller command for a tick.
type InputSource func(tick uint64) protocol.InputCommand

// Idle never expresses intent.
func Idle(uint64) protocol.InputCommand {
	return protocol.InputCommand{}
}

// ScriptedInput cycles through cmds, one per tick.
func ScriptedInput(cmds []protocol.InputCommand) InputSource {
	if len(cmds) == 0 {
		return Idle
	}
	return func(tick uint64) protocol.InputCommand {
		return cmds[tick%uint64(len(cmds))]
	}
}

// ParseScript parses steps such as "right+attack". "idle" or "" is a step with no intent.
func ParseScript(steps []string) ([]protocol.InputCommand, error) {
	out := make([]protocol.InputCommand, 0, len(steps))
	for i, step := range steps {
		var cmd protocol.InputCommand
		for _, intent := range strings.Split(step, "+") {
			if err := setIntent(&cmd, strings.ToLower(strings.TrimSpace(intent))); err != nil {
				return nil, fmt.Errorf("input script step %d: %w", i, err)
			}
		}
		out = append(out, cmd)
	}
	return out, nil
}

func setIntent(cmd *protocol.InputCommand, intent string) error {
	switch intent {
	case "", "idle":
	case "up":
		cmd.MoveUp = true
	case "down":
		cmd.MoveDown = true
	case "left":
		cmd.MoveLeft = true
	case "right":
		cmd.MoveRight = true
	case "attack":
		cmd.Attack = true
	case "shield":
		cmd.Shield = true
	case "more":
		cmd.IncreaseAggression = true
	case "less":
		cmd.DecreaseAggression = true
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}
	return nil
}
