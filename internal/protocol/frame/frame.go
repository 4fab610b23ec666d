package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/cellsync/internal/protocol"
	"github.com/danmuck/cellsync/internal/protocol/schema"
)

// TypeLen is the size of the type tag that opens every frame.
const TypeLen = 1

var (
	ErrShortFrame      = errors.New("frame: short frame")
	ErrUnknownType     = errors.New("frame: unknown message type")
	ErrPayloadLength   = errors.New("frame: payload length does not match type")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: schema.MaxPayloadLen,
	}
}

// ReadFrame reads exactly one [type][payload] frame. The payload length is implied by the type.
// io.EOF is returned unchanged when the stream ends cleanly between frames.
func ReadFrame(r io.Reader, limits Limits) (protocol.Message, error) {
	var tag [TypeLen]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return protocol.Message{}, err
	}

	t := schema.MessageType(tag[0])
	n, ok := schema.PayloadLen(t)
	if !ok {
		return protocol.Message{}, fmt.Errorf("%w: tag=%d", ErrUnknownType, tag[0])
	}
	if n > limits.MaxPayloadBytes {
		return protocol.Message{}, ErrPayloadTooLarge
	}

	msg := protocol.Message{Type: t}
	if n > 0 {
		msg.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return protocol.Message{}, ErrShortFrame
			}
			return protocol.Message{}, err
		}
	}
	return msg, nil
}

// Encode returns the contiguous wire bytes for msg so it can be written in one call.
func Encode(msg protocol.Message, limits Limits) ([]byte, error) {
	want, ok := schema.PayloadLen(msg.Type)
	if !ok {
		return nil, fmt.Errorf("%w: tag=%d", ErrUnknownType, uint8(msg.Type))
	}
	if len(msg.Payload) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	if len(msg.Payload) != want {
		return nil, fmt.Errorf("%w: type=%s got=%d want=%d", ErrPayloadLength, msg.Type, len(msg.Payload), want)
	}
	buf := make([]byte, 0, TypeLen+want)
	buf = append(buf, byte(msg.Type))
	buf = append(buf, msg.Payload...)
	return buf, nil
}

// WriteFrame encodes msg and writes it with a single Write call.
func WriteFrame(w io.Writer, msg protocol.Message, limits Limits) error {
	buf, err := Encode(msg, limits)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}
