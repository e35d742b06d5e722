package session

import (
	"errors"

	"github.com/backkem/zssp/pkg/fragment"
	"github.com/backkem/zssp/pkg/handshake"
)

// Session package errors.
var (
	// ErrSessionNotEstablished is returned when sending before the handshake
	// has completed.
	ErrSessionNotEstablished = errors.New("session: not established")

	// ErrSessionExpired is returned by every operation on a session that
	// has been torn down. The wrapped detail names the reason.
	ErrSessionExpired = errors.New("session: expired")

	// ErrUnknownGeneration is returned for a transport packet whose key
	// generation is neither current, previous nor pending.
	ErrUnknownGeneration = errors.New("session: unknown key generation")

	// ErrInvalidSessionID is returned when a session ID is 0 or wider than
	// 48 bits.
	ErrInvalidSessionID = errors.New("session: invalid session ID")

	// ErrSessionTableFull is returned when no more sessions can be added.
	ErrSessionTableFull = errors.New("session: session table full")

	// ErrSessionIDExhausted is returned when no free session ID was found.
	ErrSessionIDExhausted = errors.New("session: session ID space exhausted")

	// ErrDuplicateSession is returned when adding a session with an existing ID.
	ErrDuplicateSession = errors.New("session: duplicate session ID")

	// ErrInvalidParams is returned when session parameters are out of range.
	ErrInvalidParams = errors.New("session: invalid parameters")

	// ErrNegotiationTimedOut is re-exported from the handshake package.
	ErrNegotiationTimedOut = handshake.ErrNegotiationTimedOut

	// ErrDataTooLarge is re-exported from the fragment package.
	ErrDataTooLarge = fragment.ErrDataTooLarge
)

// Close reasons reported through Hooks.OnClosed and CloseReason.
var (
	// ErrClosedByApplication marks an explicit Close.
	ErrClosedByApplication = errors.New("session: closed")

	// ErrUsageCeiling marks a session whose key reached the absolute usage
	// limit without a completed ratchet.
	ErrUsageCeiling = errors.New("session: usage ceiling reached")

	// ErrTooManyAuthFailures marks a session torn down after consecutive
	// authentication failures.
	ErrTooManyAuthFailures = errors.New("session: too many authentication failures")
)
