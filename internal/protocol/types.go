package protocol

import "github.com/danmuck/cellsync/internal/protocol/schema"

// Message is one decoded frame: a type tag and its fixed-length payload.
type Message struct {
	Type    schema.MessageType
	Payload []byte
}

// Input flag bits, one per intent.
const (
	InputMoveUp             uint8 = 0x01
	InputMoveDown           uint8 = 0x02
	InputMoveLeft           uint8 = 0x04
	InputMoveRight          uint8 = 0x08
	InputAttack             uint8 = 0x10
	InputShield             uint8 = 0x20
	InputIncreaseAggression uint8 = 0x40
	InputDecreaseAggression uint8 = 0x80
)

// State flag bits carried in the snapshot flag byte.
const (
	StateFacingRight uint8 = 0x01
	StateAttacking   uint8 = 0x02
	StateShielding   uint8 = 0x04
)

// InputCommand is the set of intents captured for one tick.
// It is built fresh each tick, sent once, and applied once by the receiver.
type InputCommand struct {
	MoveUp             bool
	MoveDown           bool
	MoveLeft           bool
	MoveRight          bool
	Attack             bool
	Shield             bool
	IncreaseAggression bool
	DecreaseAggression bool
}

// Any reports whether at least one intent is set.
func (c InputCommand) Any() bool {
	return c.Bits() != 0
}

// Bits packs the intents into the wire flag byte.
func (c InputCommand) Bits() uint8 {
	var b uint8
	if c.MoveUp {
		b |= InputMoveUp
	}
	if c.MoveDown {
		b |= InputMoveDown
	}
	if c.MoveLeft {
		b |= InputMoveLeft
	}
	if c.MoveRight {
		b |= InputMoveRight
	}
	if c.Attack {
		b |= InputAttack
	}
	if c.Shield {
		b |= InputShield
	}
	if c.IncreaseAggression {
		b |= InputIncreaseAggression
	}
	if c.DecreaseAggression {
		b |= InputDecreaseAggression
	}
	return b
}

// InputFromBits unpacks a wire flag byte.
func InputFromBits(b uint8) InputCommand {
	return InputCommand{
		MoveUp:             b&InputMoveUp != 0,
		MoveDown:           b&InputMoveDown != 0,
		MoveLeft:           b&InputMoveLeft != 0,
		MoveRight:          b&InputMoveRight != 0,
		Attack:             b&InputAttack != 0,
		Shield:             b&InputShield != 0,
		IncreaseAggression: b&InputIncreaseAggression != 0,
		DecreaseAggression: b&InputDecreaseAggression != 0,
	}
}

// StateSnapshot is the authoritative full state of one entity.
//
// Sequence is a 24-bit counter carried in the reference padding bytes.
// Zero means unsequenced and is never treated as stale.
type StateSnapshot struct {
	PosX            float32
	PosY            float32
	VelX            float32
	VelY            float32
	Health          float32
	AttackTime      float32
	AggressionLevel float32
	FacingRight     bool
	Attacking       bool
	Shielding       bool
	Sequence        uint32
}

// IsZero reports whether s is the documented zero value returned for malformed payloads.
func (s StateSnapshot) IsZero() bool {
	return s == StateSnapshot{}
}

func (s StateSnapshot) flags() uint8 {
	var b uint8
	if s.FacingRight {
		b |= StateFacingRight
	}
	if s.Attacking {
		b |= StateAttacking
	}
	if s.Shielding {
		b |= StateShielding
	}
	return b
}

func NewInputMessage(cmd InputCommand) Message {
	return Message{Type: schema.MsgPlayerInput, Payload: EncodeInput(cmd)}
}

func NewStateMessage(s StateSnapshot) Message {
	return Message{Type: schema.MsgPlayerState, Payload: EncodeState(s)}
}

// NewControlMessage builds an empty-payload message (connect, disconnect, ping, pong).
func NewControlMessage(t schema.MessageType) Message {
	return Message{Type: t}
}
