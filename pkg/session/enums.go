// Package session implements an established secure channel between two
// identities.
//
// A Session wraps the handshake while negotiating, then carries the key
// ratchet: the current key generation used for sending, the previous
// generation kept for receive while the peer catches up, and a pending next
// generation while a rekey exchange is in flight. Each generation owns its
// own directional AEAD keys, send counter and replay window.
//
// Rekeying is a lightweight exchange over the authenticated channel:
//
//	RekeyOffer: e1                 (under generation n)
//	RekeyAck:   e2, H(e1)          (under generation n)
//	KeyConfirm: {}                 (under generation n+1)
//
// The new ratchet key is HKDF(salt = ratchet key n, ikm = DH(e1, e2)).
//
// All Session methods are safe for concurrent use. State mutations of one
// session are serialized by a per-session mutex, and the send callback is
// invoked with that mutex held so datagrams leave in counter order.
package session

import "github.com/backkem/zssp/pkg/handshake"

// Role identifies whether the local side opened the session or accepted it.
// The role selects the directional keys of every generation.
type Role = handshake.Role

// Role values.
const (
	RoleInitiator = handshake.RoleInitiator
	RoleResponder = handshake.RoleResponder
)

// State is the lifecycle position of a session.
type State int

const (
	// StateNegotiating means the handshake has not completed.
	StateNegotiating State = iota

	// StateEstablished means transport keys are available. Ratcheting
	// happens in place and does not leave this state.
	StateEstablished

	// StateExpired means the session was torn down by policy: a negotiation
	// timeout, the usage ceiling, or repeated authentication failures.
	StateExpired

	// StateClosed means the session was closed explicitly.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "Negotiating"
	case StateEstablished:
		return "Established"
	case StateExpired:
		return "Expired"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true once the session can no longer carry traffic.
func (s State) IsTerminal() bool {
	return s == StateExpired || s == StateClosed
}
