package protocol

import (
	"encoding/binary"
	"math"

	"github.com/danmuck/cellsync/internal/protocol/schema"
)

// Snapshot field offsets inside the 32-byte state payload.
const (
	offPosX       = 0
	offPosY       = 4
	offVelX       = 8
	offVelY       = 12
	offHealth     = 16
	offAttackTime = 20
	offAggression = 24
	offFlags      = 28
	offSequence   = 29
)

// SequenceMask bounds snapshot sequence numbers to the 24 bits on the wire.
const SequenceMask uint32 = 0x00FFFFFF

// EncodeInput packs cmd into its one-byte payload.
func EncodeInput(cmd InputCommand) []byte {
	return []byte{cmd.Bits()}
}

// EncodeState writes s in the fixed little-endian snapshot layout.
func EncodeState(s StateSnapshot) []byte {
	buf := make([]byte, schema.StatePayloadLen)
	putF32(buf[offPosX:], s.PosX)
	putF32(buf[offPosY:], s.PosY)
	putF32(buf[offVelX:], s.VelX)
	putF32(buf[offVelY:], s.VelY)
	putF32(buf[offHealth:], s.Health)
	putF32(buf[offAttackTime:], s.AttackTime)
	putF32(buf[offAggression:], s.AggressionLevel)
	buf[offFlags] = s.flags()
	seq := s.Sequence & SequenceMask
	buf[offSequence] = byte(seq)
	buf[offSequence+1] = byte(seq >> 8)
	buf[offSequence+2] = byte(seq >> 16)
	return buf
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
