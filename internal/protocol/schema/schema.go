package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// MessageType is the one-byte wire tag that opens every frame.
type MessageType uint8

// Message type tags. Values follow the reference enum order.
const (
	MsgConnectRequest MessageType = 0
	MsgConnectAccept  MessageType = 1
	MsgDisconnect     MessageType = 2
	MsgPlayerState    MessageType = 3
	MsgPlayerInput    MessageType = 4
	MsgGameState      MessageType = 5 // reserved, never framed
	MsgPing           MessageType = 6
	MsgPong           MessageType = 7
)

// Fixed payload lengths per message type.
const (
	InputPayloadLen = 1
	StatePayloadLen = 32
)

// MaxPayloadLen is the largest fixed payload any framed type carries.
const MaxPayloadLen = StatePayloadLen

type ValidationError struct {
	MessageType MessageType
	Got         int
	Want        int
	Reason      string
}

func (e ValidationError) Error() string {
	if e.Want == 0 && e.Got == 0 {
		return fmt.Sprintf("schema: message_type=%s: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%s payload=%d want=%d: %s", e.MessageType, e.Got, e.Want, e.Reason)
}

var payloadLens = map[MessageType]int{
	MsgConnectRequest: 0,
	MsgConnectAccept:  0,
	MsgDisconnect:     0,
	MsgPlayerState:    StatePayloadLen,
	MsgPlayerInput:    InputPayloadLen,
	MsgPing:           0,
	MsgPong:           0,
}

var names = map[MessageType]string{
	MsgConnectRequest: "connect_request",
	MsgConnectAccept:  "connect_accept",
	MsgDisconnect:     "disconnect",
	MsgPlayerState:    "player_state",
	MsgPlayerInput:    "player_input",
	MsgGameState:      "game_state",
	MsgPing:           "ping",
	MsgPong:           "pong",
}

func (t MessageType) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// PayloadLen returns the implied payload length for a framed type.
// GameState is reserved and reports false like any unknown tag.
func PayloadLen(t MessageType) (int, bool) {
	n, ok := payloadLens[t]
	return n, ok
}

// Known reports whether t may appear on the wire.
func Known(t MessageType) bool {
	_, ok := payloadLens[t]
	return ok
}

// Validate checks that payload matches the fixed length of its type.
func Validate(t MessageType, payload []byte) error {
	want, ok := payloadLens[t]
	if !ok {
		log.Debug().Str("message_type", t.String()).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: t, Reason: "unknown message_type"}
	}
	if len(payload) != want {
		log.Debug().
			Str("message_type", t.String()).
			Int("got", len(payload)).
			Int("want", want).
			Msg("schema.Validate length mismatch")
		return ValidationError{MessageType: t, Got: len(payload), Want: want, Reason: "payload length mismatch"}
	}
	return nil
}

// Types lists every framed message type in wire order.
func Types() []MessageType {
	return []MessageType{
		MsgConnectRequest,
		MsgConnectAccept,
		MsgDisconnect,
		MsgPlayerState,
		MsgPlayerInput,
		MsgPing,
		MsgPong,
	}
}
