package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/cellsync/internal/protocol"
	"github.com/danmuck/cellsync/internal/protocol/schema"
	"github.com/danmuck/cellsync/internal/testutil/testlog"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := []protocol.Message{
		protocol.NewControlMessage(schema.MsgConnectRequest),
		protocol.NewInputMessage(protocol.InputCommand{Attack: true}),
		protocol.NewStateMessage(protocol.StateSnapshot{PosX: 120.5, PosY: 80.25, Health: 42, Shielding: true}),
		protocol.NewControlMessage(schema.MsgPing),
	}
	var buf bytes.Buffer
	for _, msg := range in {
		if err := WriteFrame(&buf, msg, DefaultLimits()); err != nil {
			t.Fatalf("write %s: %v", msg.Type, err)
		}
	}
	if buf.Len() != 1+2+33+1 {
		t.Fatalf("unexpected stream length: %d", buf.Len())
	}
	for i, want := range in {
		got, err := ReadFrame(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("frame %d mismatch: got=%+v want=%+v", i, got, want)
		}
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at clean end, got %v", err)
	}
}

func TestReadFrameUnknownTypeIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{byte(schema.MsgGameState)}), DefaultLimits())
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	_, err = ReadFrame(bytes.NewReader([]byte{0xfe}), DefaultLimits())
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestReadFrameShortPayload(t *testing.T) {
	testlog.Start(t)
	raw := append([]byte{byte(schema.MsgPlayerState)}, make([]byte, 10)...)
	_, err := ReadFrame(bytes.NewReader(raw), DefaultLimits())
	if !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestEncodeRejectsWrongPayloadLength(t *testing.T) {
	testlog.Start(t)
	_, err := Encode(protocol.Message{Type: schema.MsgPlayerInput, Payload: []byte{1, 2}}, DefaultLimits())
	if !errors.Is(err, ErrPayloadLength) {
		t.Fatalf("expected ErrPayloadLength, got %v", err)
	}
	_, err = Encode(protocol.Message{Type: schema.MsgGameState}, DefaultLimits())
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	_, err = Encode(protocol.Message{Type: schema.MsgPing, Payload: make([]byte, 64)}, DefaultLimits())
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

type countingWriter struct {
	writes int
	buf    bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.buf.Write(p)
}

func TestWriteFrameSingleWrite(t *testing.T) {
	testlog.Start(t)
	w := &countingWriter{}
	if err := WriteFrame(w, protocol.NewStateMessage(protocol.StateSnapshot{Health: 1}), DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if w.writes != 1 {
		t.Fatalf("frame must be written in one call, got %d", w.writes)
	}
	if w.buf.Len() != 33 {
		t.Fatalf("unexpected frame length: %d", w.buf.Len())
	}
}
