package handshake

import (
	"errors"
	"fmt"

	"github.com/backkem/zssp/pkg/message"
)

// Handshake errors. Authentication and key-encoding failures wrap the crypto
// package sentinels, and packet layout failures wrap message.ErrMalformedPacket.
var (
	// ErrInvalidState is returned when an operation is invalid for the current state.
	ErrInvalidState = errors.New("handshake: invalid state for operation")

	// ErrNegotiationTimedOut is returned once the negotiation deadline passes.
	ErrNegotiationTimedOut = errors.New("handshake: negotiation timed out")

	// ErrBlobTooLarge is returned when the local static blob cannot be encoded.
	ErrBlobTooLarge = errors.New("handshake: static blob too large")
)

func errMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", message.ErrMalformedPacket, fmt.Sprintf(format, args...))
}
