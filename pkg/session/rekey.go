package session

import (
	"fmt"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/message"
)

// offerHashSize is the size of the offer digest echoed in RekeyAck.
const offerHashSize = 16

func offerHash(public []byte) []byte {
	return crypto.SHA384Slice(public)[:offerHashSize]
}

// maybeRekeyLocked starts a ratchet when the current generation crossed the
// usage or age threshold. Only one transition is in flight at a time.
// A failed offer is retried by the next call.
func (s *Session) maybeRekeyLocked(send SendFunc, now int64) {
	if s.state != StateEstablished || s.offer != nil || s.next != nil {
		return
	}
	if s.current.counter.Current() < s.params.RekeyAfterUses && now < s.rekeyAt {
		return
	}
	_ = s.startOfferLocked(send, now)
}

// startOfferLocked generates the ratchet ephemeral and sends RekeyOffer.
func (s *Session) startOfferLocked(send SendFunc, now int64) error {
	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate ratchet key: %w", err)
	}
	public := eph.PublicKeyBytes()
	s.offer = &rekeyOffer{
		ephemeral:   eph,
		public:      public,
		hash:        offerHash(public),
		nextRetryAt: now + s.params.RetryIntervalMs,
	}
	return s.sendControlLocked(send, message.PacketTypeRekeyOffer, public)
}

// handleOfferLocked answers a RekeyOffer with RekeyAck and prepares the next
// generation, which becomes current on the first packet authenticated under it.
//
// A retransmitted offer is answered with the same ack. When both sides offer
// at once, the session initiator's offer wins and the responder drops its own.
func (s *Session) handleOfferLocked(send SendFunc, g *generation, payload []byte, now int64) error {
	if g != s.current {
		return nil
	}
	if len(payload) != crypto.P384PublicKeySizeBytes {
		return fmt.Errorf("%w: rekey offer is %d bytes", message.ErrMalformedPacket, len(payload))
	}

	hash := offerHash(payload)
	if s.next != nil {
		if crypto.HMACEqual(hash, s.ackHash) {
			return s.sendControlLocked(send, message.PacketTypeRekeyAck, s.ackPayload)
		}
		s.next.zeroize()
		s.next = nil
	}
	if s.offer != nil {
		if s.role == RoleInitiator {
			return nil
		}
		s.offer = nil
	}

	remote, err := crypto.ParsePublicKey(payload)
	if err != nil {
		return err
	}
	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate ratchet key: %w", err)
	}
	dh, err := eph.ECDH(remote)
	if err != nil {
		return err
	}
	next, err := s.current.next(dh, s.role, s.params.ReplayWindowSize, now)
	crypto.Zeroize(dh)
	if err != nil {
		return s.expireLocked(err)
	}

	s.next = next
	s.ackHash = hash
	s.ackPayload = append(eph.PublicKeyBytes(), hash...)
	return s.sendControlLocked(send, message.PacketTypeRekeyAck, s.ackPayload)
}

// handleAckLocked completes the offerer side of a ratchet: the new generation
// becomes current at once and KeyConfirm is sent under it.
func (s *Session) handleAckLocked(send SendFunc, g *generation, payload []byte, now int64) error {
	if s.offer == nil || g != s.current {
		return nil
	}
	if len(payload) != crypto.P384PublicKeySizeBytes+offerHashSize {
		return fmt.Errorf("%w: rekey ack is %d bytes", message.ErrMalformedPacket, len(payload))
	}
	if !crypto.HMACEqual(payload[crypto.P384PublicKeySizeBytes:], s.offer.hash) {
		// Ack for an abandoned offer.
		return nil
	}

	remote, err := crypto.ParsePublicKey(payload[:crypto.P384PublicKeySizeBytes])
	if err != nil {
		return err
	}
	dh, err := s.offer.ephemeral.ECDH(remote)
	if err != nil {
		return err
	}
	next, err := s.current.next(dh, s.role, s.params.ReplayWindowSize, now)
	crypto.Zeroize(dh)
	if err != nil {
		return s.expireLocked(err)
	}

	s.offer = nil
	s.rotateLocked(next, now)
	s.awaitingSwitch = true
	return s.sendKeyConfirmLocked(send, now)
}

// promoteLocked makes the pending next generation current (acker side).
func (s *Session) promoteLocked(now int64) {
	next := s.next
	s.next = nil
	crypto.ZeroizeAll(s.ackHash, s.ackPayload)
	s.ackHash, s.ackPayload = nil, nil
	s.rotateLocked(next, now)
}

// rotateLocked installs next as the current generation. The old current
// generation is kept for receive only; the one before it is erased.
func (s *Session) rotateLocked(next *generation, now int64) {
	if s.previous != nil {
		s.reassembler.DropGeneration(s.previous.number)
		s.previous.zeroize()
	}
	s.previous = s.current
	s.current = next
	s.rekeyAt = rekeyDeadline(now, s.params, s.random)

	s.stats.Ratchets++
	s.stats.LastRekeyAt = now
	s.stats.MessagesSent = 0
	s.stats.BytesSent = 0
	s.stats.MessagesReceived = 0
	s.stats.BytesReceived = 0

	if s.hooks.OnRatchet != nil {
		n := uint64(next.number)
		s.events = append(s.events, func() { s.hooks.OnRatchet(s, n) })
	}
}

// sendKeyConfirmLocked tells the acker to switch to the current generation.
func (s *Session) sendKeyConfirmLocked(send SendFunc, now int64) error {
	s.lastConfirmAt = now
	return s.sendControlLocked(send, message.PacketTypeKeyConfirm, nil)
}

// Service drives the session's timers: handshake retransmission and
// timeout, rekey offer retries, time-based ratchets and reassembly eviction.
// KeyConfirm is retransmitted from HandleTransport instead, whenever the
// peer is still seen sending under the previous generation.
//
// It returns the next time Service needs to run, and done=true once the
// session is torn down and should be removed from its table.
func (s *Session) Service(send SendFunc, now int64) (next int64, done bool) {
	s.mu.Lock()
	defer s.unlock()

	if now > s.lastNow {
		s.lastNow = now
	}

	switch s.state {
	case StateNegotiating:
		resend, expired, deadline := s.hs.Service(now)
		if expired {
			s.closeLocked(StateExpired, ErrNegotiationTimedOut)
			return 0, true
		}
		if resend != nil {
			send(s.path, resend)
		}
		return deadline, false

	case StateEstablished:
		s.reassembler.Evict(now)

		if s.offer != nil && now >= s.offer.nextRetryAt {
			s.offer.nextRetryAt = now + s.params.RetryIntervalMs
			_ = s.sendControlLocked(send, message.PacketTypeRekeyOffer, s.offer.public)
		}
		s.maybeRekeyLocked(send, now)
		if s.state.IsTerminal() {
			return 0, true
		}

		next = s.rekeyAt
		if s.offer != nil && s.offer.nextRetryAt < next {
			next = s.offer.nextRetryAt
		}
		if d, ok := s.reassembler.NextDeadline(); ok && d < next {
			next = d
		}
		return next, false

	default:
		return 0, true
	}
}
