package session

import (
	"fmt"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/fragment"
	"github.com/backkem/zssp/pkg/message"
)

// Send encrypts data under the current key generation and emits it as one
// or more fragments through send, in order.
//
// Fragments of one message use consecutive counters. A message that would
// push the generation past ExpireAfterUses expires the session instead of
// being sent. Crossing RekeyAfterUses starts a ratchet.
func (s *Session) Send(send SendFunc, data []byte) error {
	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case StateNegotiating:
		return ErrSessionNotEstablished
	case StateExpired, StateClosed:
		return s.terminalErrLocked()
	}

	chunks, err := fragment.Split(data, s.params.MTU)
	if err != nil {
		return err
	}

	g := s.current
	n := uint64(len(chunks))
	if g.counter.Current()+n > s.params.ExpireAfterUses {
		return s.expireLocked(ErrUsageCeiling)
	}
	first, err := g.counter.Reserve(len(chunks))
	if err != nil {
		return s.expireLocked(fmt.Errorf("%w: %v", ErrUsageCeiling, err))
	}

	for i, chunk := range chunks {
		h := message.Header{
			Version:       message.ProtocolVersion,
			Type:          message.PacketTypeData,
			SessionID:     s.remoteID,
			Generation:    g.number,
			Counter:       first + uint64(i),
			FragmentNo:    uint8(i),
			FragmentCount: uint8(n),
		}
		pkt, err := g.seal(h, chunk)
		if err != nil {
			return err
		}
		send(s.path, pkt)
	}

	s.stats.MessagesSent++
	s.stats.BytesSent += uint64(len(data))

	s.maybeRekeyLocked(send, s.lastNow)
	return nil
}

// HandleTransport authenticates a transport datagram addressed to this
// session. It returns the application message when the datagram completes
// one, and nil for control packets and partial messages.
//
// A counter is consumed only after the packet authenticated. Authentication
// failures leave the session untouched apart from a consecutive failure
// count; reaching MaxAuthFailures expires the session.
func (s *Session) HandleTransport(send SendFunc, path Path, datagram []byte, now int64) ([]byte, error) {
	data, _, err := s.ReceiveTransport(send, path, datagram, now)
	return data, err
}

// ReceiveTransport is HandleTransport that also reports whether the
// datagram established the session.
//
// A responder whose Confirm is lost or reordered behind the initiator's
// first packets treats a generation 0 packet that authenticates under the
// handshake keys as the confirmation.
func (s *Session) ReceiveTransport(send SendFunc, path Path, datagram []byte, now int64) (data []byte, established bool, err error) {
	h, body, err := message.Parse(datagram)
	if err != nil {
		return nil, false, err
	}
	if !h.Type.IsTransport() {
		return nil, false, fmt.Errorf("%w: %s is not a transport packet", message.ErrMalformedPacket, h.Type)
	}
	if h.Type != message.PacketTypeData && h.FragmentCount != 1 {
		return nil, false, fmt.Errorf("%w: fragmented %s", message.ErrMalformedPacket, h.Type)
	}
	if h.SessionID != s.localID {
		return nil, false, fmt.Errorf("%w: session ID %#x, want %#x", message.ErrMalformedPacket, h.SessionID, s.localID)
	}

	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case StateNegotiating:
		if err := s.confirmByTrafficLocked(h, datagram, body, now); err != nil {
			return nil, false, err
		}
		established = true
	case StateExpired, StateClosed:
		return nil, false, s.terminalErrLocked()
	}
	data, err = s.receiveLocked(send, path, h, datagram, body, now)
	return data, established, err
}

// confirmByTrafficLocked establishes a negotiating responder from a
// transport packet that authenticates under the pending generation 0 keys.
func (s *Session) confirmByTrafficLocked(h message.Header, datagram, body []byte, now int64) error {
	if s.role != RoleResponder || s.hs == nil || h.Generation != 0 {
		return ErrSessionNotEstablished
	}
	keys, err := s.hs.PendingKeys()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionNotEstablished, err)
	}
	g, err := newGeneration(0, keys.RatchetKey, s.role, s.params.ReplayWindowSize, now)
	keys.Zeroize()
	if err != nil {
		return err
	}
	if _, err := g.open(h.Counter, datagram[:message.TransportHeaderSize], body); err != nil {
		g.zeroize()
		return err
	}
	if err := s.hs.ConfirmImplicitly(); err != nil {
		g.zeroize()
		return err
	}
	if keys, err := s.hs.Keys(); err == nil {
		keys.Zeroize()
	}
	s.installLocked(g, now)
	return nil
}

// receiveLocked authenticates and dispatches a transport packet for an
// established session.
func (s *Session) receiveLocked(send SendFunc, path Path, h message.Header, datagram, body []byte, now int64) ([]byte, error) {
	if now > s.lastNow {
		s.lastNow = now
	}

	g := s.generationLocked(h.Generation)
	if g == nil {
		return nil, s.authFailedLocked(fmt.Errorf("%w: %w %d", crypto.ErrAuthenticationFailed, ErrUnknownGeneration, h.Generation))
	}
	if err := g.window.Check(h.Counter); err != nil {
		s.stats.ReplaysDetected++
		return nil, err
	}
	plaintext, err := g.open(h.Counter, datagram[:message.TransportHeaderSize], body)
	if err != nil {
		return nil, s.authFailedLocked(err)
	}
	s.authFailures = 0
	if err := g.window.Accept(h.Counter); err != nil {
		return nil, err
	}
	if h.Counter >= s.params.ExpireAfterUses {
		return nil, s.expireLocked(ErrUsageCeiling)
	}

	s.path = path
	if s.hs != nil {
		// The responder only sends under session keys after Confirm.
		s.hs = nil
	}

	switch {
	case g == s.next:
		s.promoteLocked(now)
	case g == s.current:
		s.awaitingSwitch = false
	case g == s.previous && s.awaitingSwitch:
		if now-s.lastConfirmAt >= s.params.RetryIntervalMs {
			if err := s.sendKeyConfirmLocked(send, now); err != nil {
				return nil, err
			}
		}
	}

	var data []byte
	switch h.Type {
	case message.PacketTypeData:
		msg, complete, err := s.reassembler.Add(fragment.Fragment{
			Generation: g.number,
			Counter:    h.Counter,
			Number:     h.FragmentNo,
			Total:      h.FragmentCount,
			Payload:    plaintext,
		}, now)
		if err != nil {
			return nil, err
		}
		if complete {
			s.stats.MessagesReceived++
			s.stats.BytesReceived += uint64(len(msg))
			data = msg
		}
	case message.PacketTypeRekeyOffer:
		err = s.handleOfferLocked(send, g, plaintext, now)
	case message.PacketTypeRekeyAck:
		err = s.handleAckLocked(send, g, plaintext, now)
	case message.PacketTypeKeyConfirm:
		// Promotion already happened above.
	}
	if err != nil {
		return nil, err
	}
	if s.state.IsTerminal() {
		return nil, s.terminalErrLocked()
	}

	s.maybeRekeyLocked(send, now)
	return data, nil
}

// generationLocked returns the generation numbered n, if it is live.
func (s *Session) generationLocked(n uint32) *generation {
	for _, g := range []*generation{s.current, s.next, s.previous} {
		if g != nil && g.number == n {
			return g
		}
	}
	return nil
}

// authFailedLocked counts a failed authentication and returns err, or the
// expiry error once the limit is reached.
func (s *Session) authFailedLocked(err error) error {
	s.authFailures++
	s.stats.AuthFailures++
	if s.authFailures >= s.params.MaxAuthFailures {
		return s.expireLocked(ErrTooManyAuthFailures)
	}
	return err
}

// sendControlLocked seals a single-fragment control packet under the current
// generation.
func (s *Session) sendControlLocked(send SendFunc, t message.PacketType, payload []byte) error {
	g := s.current
	if g.counter.Current()+1 > s.params.ExpireAfterUses {
		return s.expireLocked(ErrUsageCeiling)
	}
	counter, err := g.counter.Next()
	if err != nil {
		return s.expireLocked(fmt.Errorf("%w: %v", ErrUsageCeiling, err))
	}
	pkt, err := g.seal(message.Header{
		Version:       message.ProtocolVersion,
		Type:          t,
		SessionID:     s.remoteID,
		Generation:    g.number,
		Counter:       counter,
		FragmentNo:    0,
		FragmentCount: 1,
	}, payload)
	if err != nil {
		return err
	}
	send(s.path, pkt)
	return nil
}
