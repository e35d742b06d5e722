package session

import (
	"fmt"

	"github.com/backkem/zssp/pkg/fragment"
	"github.com/backkem/zssp/pkg/message"
)

// Ratchet and lifetime defaults.
const (
	// DefaultRekeyAfterUses is the number of encryptions under one key
	// generation after which a ratchet is started.
	DefaultRekeyAfterUses uint64 = 300000

	// DefaultExpireAfterUses is the absolute number of encryptions under one
	// key generation. Reaching it without a ratchet tears the session down.
	DefaultExpireAfterUses uint64 = 2147483648

	// DefaultRekeyAfterTimeMs is the age of a key generation after which a
	// ratchet is started (2 hours).
	DefaultRekeyAfterTimeMs int64 = 7200000

	// DefaultRekeyAfterTimeMaxJitterMs bounds the random delay added to
	// DefaultRekeyAfterTimeMs (10 minutes).
	DefaultRekeyAfterTimeMaxJitterMs int64 = 600000

	// DefaultRetryIntervalMs is the retransmission interval of handshake
	// messages and rekey offers.
	DefaultRetryIntervalMs int64 = 500

	// DefaultIncomingNegotiationTimeoutMs bounds how long a responder waits
	// for Confirm.
	DefaultIncomingNegotiationTimeoutMs int64 = 2000

	// DefaultOutgoingNegotiationTimeoutMs bounds how long an initiator waits
	// for Response.
	DefaultOutgoingNegotiationTimeoutMs int64 = 10000

	// DefaultMTU is the default datagram size.
	DefaultMTU = 1500

	// DefaultMaxAuthFailures is the number of consecutive authentication
	// failures that tears a session down.
	DefaultMaxAuthFailures = 1024
)

// Params holds the per-session limits. Every Session created by one Context
// shares the same Params.
type Params struct {
	// RekeyAfterUses starts a ratchet once this many packets were sealed
	// under the current generation.
	RekeyAfterUses uint64

	// ExpireAfterUses is the hard per-generation packet ceiling.
	ExpireAfterUses uint64

	// RekeyAfterTimeMs starts a ratchet once the current generation is this old.
	RekeyAfterTimeMs int64

	// RekeyAfterTimeMaxJitterMs bounds the random delay added to
	// RekeyAfterTimeMs, drawn once per generation. Negative disables jitter.
	RekeyAfterTimeMaxJitterMs int64

	// RetryIntervalMs is the retransmission interval for handshake messages
	// and rekey offers.
	RetryIntervalMs int64

	// IncomingNegotiationTimeoutMs bounds responder negotiations.
	IncomingNegotiationTimeoutMs int64

	// OutgoingNegotiationTimeoutMs bounds initiator negotiations.
	OutgoingNegotiationTimeoutMs int64

	// MTU is the largest datagram emitted.
	MTU int

	// ReplayWindowSize is the number of counters tracked behind the highest
	// accepted counter of each generation.
	ReplayWindowSize int

	// MaxMessagesInFlight bounds the partially reassembled messages.
	MaxMessagesInFlight int

	// FragmentTimeoutMs drops partial messages older than this.
	FragmentTimeoutMs int64

	// MaxAuthFailures is the consecutive authentication failure limit.
	MaxAuthFailures int
}

// DefaultParams returns the default session parameters.
func DefaultParams() Params {
	return Params{
		RekeyAfterUses:               DefaultRekeyAfterUses,
		ExpireAfterUses:              DefaultExpireAfterUses,
		RekeyAfterTimeMs:             DefaultRekeyAfterTimeMs,
		RekeyAfterTimeMaxJitterMs:    DefaultRekeyAfterTimeMaxJitterMs,
		RetryIntervalMs:              DefaultRetryIntervalMs,
		IncomingNegotiationTimeoutMs: DefaultIncomingNegotiationTimeoutMs,
		OutgoingNegotiationTimeoutMs: DefaultOutgoingNegotiationTimeoutMs,
		MTU:                          DefaultMTU,
		ReplayWindowSize:             message.DefaultReplayWindowSize,
		MaxMessagesInFlight:          fragment.DefaultMaxMessages,
		FragmentTimeoutMs:            fragment.DefaultTimeoutMs,
		MaxAuthFailures:              DefaultMaxAuthFailures,
	}
}

// WithDefaults returns a copy of the parameters with zero values replaced by defaults.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	result := p
	if result.RekeyAfterUses == 0 {
		result.RekeyAfterUses = d.RekeyAfterUses
	}
	if result.ExpireAfterUses == 0 {
		result.ExpireAfterUses = d.ExpireAfterUses
	}
	if result.RekeyAfterTimeMs == 0 {
		result.RekeyAfterTimeMs = d.RekeyAfterTimeMs
	}
	if result.RekeyAfterTimeMaxJitterMs == 0 {
		result.RekeyAfterTimeMaxJitterMs = d.RekeyAfterTimeMaxJitterMs
	}
	if result.RetryIntervalMs == 0 {
		result.RetryIntervalMs = d.RetryIntervalMs
	}
	if result.IncomingNegotiationTimeoutMs == 0 {
		result.IncomingNegotiationTimeoutMs = d.IncomingNegotiationTimeoutMs
	}
	if result.OutgoingNegotiationTimeoutMs == 0 {
		result.OutgoingNegotiationTimeoutMs = d.OutgoingNegotiationTimeoutMs
	}
	if result.MTU == 0 {
		result.MTU = d.MTU
	}
	if result.ReplayWindowSize == 0 {
		result.ReplayWindowSize = d.ReplayWindowSize
	}
	if result.MaxMessagesInFlight == 0 {
		result.MaxMessagesInFlight = d.MaxMessagesInFlight
	}
	if result.FragmentTimeoutMs == 0 {
		result.FragmentTimeoutMs = d.FragmentTimeoutMs
	}
	if result.MaxAuthFailures == 0 {
		result.MaxAuthFailures = d.MaxAuthFailures
	}
	return result
}

// Validate checks that the parameters are usable.
func (p Params) Validate() error {
	switch {
	case p.RekeyAfterUses == 0:
		return fmt.Errorf("%w: RekeyAfterUses must be positive", ErrInvalidParams)
	case p.ExpireAfterUses <= p.RekeyAfterUses:
		return fmt.Errorf("%w: ExpireAfterUses (%d) must exceed RekeyAfterUses (%d)",
			ErrInvalidParams, p.ExpireAfterUses, p.RekeyAfterUses)
	case p.RekeyAfterTimeMs <= 0:
		return fmt.Errorf("%w: RekeyAfterTimeMs must be positive", ErrInvalidParams)
	case p.RetryIntervalMs <= 0:
		return fmt.Errorf("%w: RetryIntervalMs must be positive", ErrInvalidParams)
	case p.IncomingNegotiationTimeoutMs <= 0 || p.OutgoingNegotiationTimeoutMs <= 0:
		return fmt.Errorf("%w: negotiation timeouts must be positive", ErrInvalidParams)
	case p.MTU < fragment.MinMTU:
		return fmt.Errorf("%w: MTU %d below %d", ErrInvalidParams, p.MTU, fragment.MinMTU)
	case p.ReplayWindowSize < 64:
		return fmt.Errorf("%w: ReplayWindowSize %d below 64", ErrInvalidParams, p.ReplayWindowSize)
	case p.MaxMessagesInFlight <= 0:
		return fmt.Errorf("%w: MaxMessagesInFlight must be positive", ErrInvalidParams)
	case p.FragmentTimeoutMs <= 0:
		return fmt.Errorf("%w: FragmentTimeoutMs must be positive", ErrInvalidParams)
	case p.MaxAuthFailures <= 0:
		return fmt.Errorf("%w: MaxAuthFailures must be positive", ErrInvalidParams)
	}
	return nil
}
