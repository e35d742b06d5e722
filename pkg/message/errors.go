package message

import "errors"

// Message layer errors.
var (
	// ErrUnknownProtocolVersion is returned when the version byte is not
	// ProtocolVersion.
	ErrUnknownProtocolVersion = errors.New("message: unknown protocol version")

	// ErrMalformedPacket is returned for truncated packets, unknown packet
	// types or inconsistent header fields.
	ErrMalformedPacket = errors.New("message: malformed packet")

	// ErrReplayDetected is returned when a receive counter has already been
	// accepted or lies behind the replay window.
	ErrReplayDetected = errors.New("message: replay detected")

	// ErrCounterExhausted is returned when a send counter has no values left.
	ErrCounterExhausted = errors.New("message: counter exhausted")
)
