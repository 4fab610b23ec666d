package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/cellsync/internal/protocol/schema"
	"github.com/danmuck/cellsync/internal/testutil/testlog"
)

func TestInputRoundTripAllFlagCombinations(t *testing.T) {
	testlog.Start(t)
	for b := 0; b < 256; b++ {
		in := InputFromBits(uint8(b))
		payload := EncodeInput(in)
		if len(payload) != schema.InputPayloadLen {
			t.Fatalf("bits=%#x payload len=%d", b, len(payload))
		}
		out, err := DecodeInput(payload)
		if err != nil {
			t.Fatalf("bits=%#x decode: %v", b, err)
		}
		if out != in {
			t.Fatalf("bits=%#x round trip got=%+v want=%+v", b, out, in)
		}
	}
}

func TestInputBitOrderIsDocumented(t *testing.T) {
	testlog.Start(t)
	got := EncodeInput(InputCommand{MoveUp: true, Attack: true, DecreaseAggression: true})
	if !bytes.Equal(got, []byte{0x01 | 0x10 | 0x80}) {
		t.Fatalf("unexpected bits: %#x", got)
	}
	if (InputCommand{}).Any() {
		t.Fatalf("zero command should report no intent")
	}
	if !(InputCommand{Shield: true}).Any() {
		t.Fatalf("shield command should report intent")
	}
}

func TestStateRoundTripBitExact(t *testing.T) {
	testlog.Start(t)
	negZero := float32(math.Copysign(0, -1))
	cases := []StateSnapshot{
		{},
		{PosX: 120.5, PosY: 80.25, Health: 42, Shielding: true, Sequence: 1},
		{
			PosX: -3.75, PosY: 1e-42, VelX: math.MaxFloat32, VelY: -math.SmallestNonzeroFloat32,
			Health: 100, AttackTime: 0.3333333, AggressionLevel: negZero,
			FacingRight: true, Attacking: true, Shielding: false, Sequence: SequenceMask,
		},
	}
	for i, in := range cases {
		payload := EncodeState(in)
		if len(payload) != schema.StatePayloadLen {
			t.Fatalf("case %d payload len=%d", i, len(payload))
		}
		out, err := DecodeState(payload)
		if err != nil {
			t.Fatalf("case %d decode: %v", i, err)
		}
		pairs := [][2]float32{
			{in.PosX, out.PosX}, {in.PosY, out.PosY}, {in.VelX, out.VelX}, {in.VelY, out.VelY},
			{in.Health, out.Health}, {in.AttackTime, out.AttackTime}, {in.AggressionLevel, out.AggressionLevel},
		}
		for j, p := range pairs {
			if math.Float32bits(p[0]) != math.Float32bits(p[1]) {
				t.Fatalf("case %d field %d bits differ: %#x != %#x", i, j, math.Float32bits(p[0]), math.Float32bits(p[1]))
			}
		}
		if out.FacingRight != in.FacingRight || out.Attacking != in.Attacking || out.Shielding != in.Shielding {
			t.Fatalf("case %d flags differ: got=%+v want=%+v", i, out, in)
		}
		if out.Sequence != in.Sequence {
			t.Fatalf("case %d sequence got=%d want=%d", i, out.Sequence, in.Sequence)
		}
	}
}

func TestStateLayoutMatchesReferenceOffsets(t *testing.T) {
	testlog.Start(t)
	payload := EncodeState(StateSnapshot{PosX: 1, FacingRight: true, Shielding: true})
	if !bytes.Equal(payload[0:4], []byte{0x00, 0x00, 0x80, 0x3f}) {
		t.Fatalf("posX not little-endian float32 at offset 0: %#x", payload[0:4])
	}
	if payload[28] != StateFacingRight|StateShielding {
		t.Fatalf("flag byte at offset 28 got=%#x", payload[28])
	}
	if !bytes.Equal(payload[29:32], []byte{0, 0, 0}) {
		t.Fatalf("unsequenced snapshot should leave padding zeroed: %#x", payload[29:32])
	}
}

func TestShortPayloadsDecodeToZeroValue(t *testing.T) {
	testlog.Start(t)
	in, err := DecodeInput(nil)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated for input, got %v", err)
	}
	if in != (InputCommand{}) {
		t.Fatalf("expected zero input, got %+v", in)
	}
	for n := 0; n < schema.StatePayloadLen; n++ {
		st, err := DecodeState(make([]byte, n))
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("len=%d expected ErrTruncated, got %v", n, err)
		}
		if !st.IsZero() {
			t.Fatalf("len=%d expected zero snapshot, got %+v", n, st)
		}
	}
}

func TestDecodeMessageChecksType(t *testing.T) {
	testlog.Start(t)
	msg := NewStateMessage(StateSnapshot{Health: 5})
	if _, err := DecodeInputMessage(msg); !errors.Is(err, ErrMessageTypeMismatch) {
		t.Fatalf("expected ErrMessageTypeMismatch, got %v", err)
	}
	st, err := DecodeStateMessage(msg)
	if err != nil || st.Health != 5 {
		t.Fatalf("decode state message: %+v err=%v", st, err)
	}
	cmd, err := DecodeInputMessage(NewInputMessage(InputCommand{Attack: true}))
	if err != nil || cmd != (InputCommand{Attack: true}) {
		t.Fatalf("decode input message: %+v err=%v", cmd, err)
	}
	ping := NewControlMessage(schema.MsgPing)
	if ping.Type != schema.MsgPing || len(ping.Payload) != 0 {
		t.Fatalf("unexpected control message: %+v", ping)
	}
}

func TestSequenceWraparound(t *testing.T) {
	testlog.Start(t)
	if NextSequence(SequenceMask) != 1 {
		t.Fatalf("sequence must skip zero on wrap")
	}
	if !SequenceNewer(2, 1) || SequenceNewer(1, 2) {
		t.Fatalf("basic ordering broken")
	}
	if SequenceNewer(5, 5) {
		t.Fatalf("equal sequence is not newer")
	}
	if !SequenceNewer(1, SequenceMask) {
		t.Fatalf("wrapped sequence should be newer")
	}
	if !SequenceNewer(0, 100) || !SequenceNewer(100, 0) {
		t.Fatalf("unsequenced snapshots are always applicable")
	}
}

func TestValidateRejectsNonFinite(t *testing.T) {
	testlog.Start(t)
	if err := (StateSnapshot{PosX: float32(math.NaN())}).Validate(); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
	if err := (StateSnapshot{Health: float32(math.Inf(1))}).Validate(); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
	if err := (StateSnapshot{PosX: 1}).Validate(); err != nil {
		t.Fatalf("finite snapshot rejected: %v", err)
	}
}
