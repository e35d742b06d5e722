package zssp

import (
	"errors"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/message"
	"github.com/backkem/zssp/pkg/session"
)

// Errors returned by Context operations. Most are the sentinels of the
// lower layers, re-exported so callers only import this package; compare
// with errors.Is.
var (
	// ErrUnknownProtocolVersion is returned for a datagram whose version byte
	// is not supported. Only that packet is affected.
	ErrUnknownProtocolVersion = message.ErrUnknownProtocolVersion

	// ErrMalformedPacket is returned for truncated or inconsistent packets.
	ErrMalformedPacket = message.ErrMalformedPacket

	// ErrReplayDetected is returned for a transport counter that was already
	// accepted or is too old.
	ErrReplayDetected = message.ErrReplayDetected

	// ErrInvalidKeyEncoding is returned for a remote public key that is not a
	// valid P-384 point.
	ErrInvalidKeyEncoding = crypto.ErrInvalidKeyEncoding

	// ErrAuthenticationFailed is returned when a packet does not verify.
	ErrAuthenticationFailed = crypto.ErrAuthenticationFailed

	// ErrNegotiationTimedOut is returned for a session whose handshake did
	// not complete in time.
	ErrNegotiationTimedOut = session.ErrNegotiationTimedOut

	// ErrSessionExpired is returned for a session that reached its usage
	// ceiling or was closed, and for late packets addressed to it.
	ErrSessionExpired = session.ErrSessionExpired

	// ErrSessionNotEstablished is returned when sending before the handshake
	// completed.
	ErrSessionNotEstablished = session.ErrSessionNotEstablished

	// ErrDataTooLarge is returned when a message needs more fragments than a
	// header can express.
	ErrDataTooLarge = session.ErrDataTooLarge

	// ErrResourceExhausted is returned when the session table or the pending
	// negotiation budget is full.
	ErrResourceExhausted = errors.New("zssp: resource exhausted")

	// ErrUnknownSession is returned for a packet addressed to a session ID
	// that is not in the table.
	ErrUnknownSession = errors.New("zssp: unknown session")

	// ErrContextClosed is returned by operations on a closed Context.
	ErrContextClosed = errors.New("zssp: context closed")

	// ErrInvalidConfig is returned when Config validation fails.
	ErrInvalidConfig = errors.New("zssp: invalid configuration")

	// ErrApplicationRequired is returned when NewContext is given no
	// Application.
	ErrApplicationRequired = errors.New("zssp: application is required")

	// ErrIdentityRequired is returned when the Application has no local
	// identity key pair.
	ErrIdentityRequired = errors.New("zssp: local identity is required")
)
