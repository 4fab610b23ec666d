package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danmuck/cellsync/internal/protocol/schema"
)

// DecodeInput unpacks a one-byte input payload.
// An empty payload yields the zero command and ErrTruncated.
func DecodeInput(b []byte) (InputCommand, error) {
	if len(b) < schema.InputPayloadLen {
		return InputCommand{}, fmt.Errorf("%w: input got=%d want=%d", ErrTruncated, len(b), schema.InputPayloadLen)
	}
	return InputFromBits(b[0]), nil
}

// DecodeState reads the fixed snapshot layout.
// Short payloads yield the zero snapshot and ErrTruncated; callers must not apply it.
func DecodeState(b []byte) (StateSnapshot, error) {
	if len(b) < schema.StatePayloadLen {
		return StateSnapshot{}, fmt.Errorf("%w: state got=%d want=%d", ErrTruncated, len(b), schema.StatePayloadLen)
	}
	flags := b[offFlags]
	return StateSnapshot{
		PosX:            getF32(b[offPosX:]),
		PosY:            getF32(b[offPosY:]),
		VelX:            getF32(b[offVelX:]),
		VelY:            getF32(b[offVelY:]),
		Health:          getF32(b[offHealth:]),
		AttackTime:      getF32(b[offAttackTime:]),
		AggressionLevel: getF32(b[offAggression:]),
		FacingRight:     flags&StateFacingRight != 0,
		Attacking:       flags&StateAttacking != 0,
		Shielding:       flags&StateShielding != 0,
		Sequence:        uint32(b[offSequence]) | uint32(b[offSequence+1])<<8 | uint32(b[offSequence+2])<<16,
	}, nil
}

// DecodeInputMessage checks the type tag before decoding.
func DecodeInputMessage(m Message) (InputCommand, error) {
	if m.Type != schema.MsgPlayerInput {
		return InputCommand{}, fmt.Errorf("%w: got=%s want=%s", ErrMessageTypeMismatch, m.Type, schema.MsgPlayerInput)
	}
	return DecodeInput(m.Payload)
}

// DecodeStateMessage checks the type tag before decoding.
func DecodeStateMessage(m Message) (StateSnapshot, error) {
	if m.Type != schema.MsgPlayerState {
		return StateSnapshot{}, fmt.Errorf("%w: got=%s want=%s", ErrMessageTypeMismatch, m.Type, schema.MsgPlayerState)
	}
	return DecodeState(m.Payload)
}

func getF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
