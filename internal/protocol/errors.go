package protocol

import "errors"

var (
	ErrTruncated           = errors.New("protocol: truncated payload")
	ErrMessageTypeMismatch = errors.New("protocol: message type mismatch")
	ErrNonFinite           = errors.New("protocol: non-finite float in snapshot")
)
