package handshake

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/message"
)

// InitiatorConfig holds the inputs of an outgoing handshake.
type InitiatorConfig struct {
	// LocalStatic is the local identity key pair. Required.
	LocalStatic *crypto.KeyPair

	// LocalBlob is the identity blob sent to the responder, typically the
	// encoded static public key. Required.
	LocalBlob []byte

	// RemoteStatic is the responder's static public key. Required.
	RemoteStatic *crypto.PublicKey

	// PreSharedKey is optional extra keying material known to both sides.
	PreSharedKey []byte

	// Metadata is delivered encrypted to the responder. Optional.
	Metadata []byte

	// LocalSessionID is the session ID the responder will address us by.
	LocalSessionID uint64

	// Timing controls retries and the deadline.
	Timing Timing
}

// Handshake manages one negotiation. It is safe for concurrent use.
type Handshake struct {
	role  Role
	state State

	localStatic  *crypto.KeyPair
	localBlob    []byte
	remoteStatic *crypto.PublicKey
	remoteBlob   []byte
	psk          []byte
	metadata     []byte

	localSessionID  uint64
	remoteSessionID uint64

	ephemeral       *crypto.KeyPair
	remoteEphemeral *crypto.PublicKey
	ephemeralHash   [crypto.SHA384LenBytes]byte

	sym  *symmetricState
	keys *Keys

	// lastMessage is the most recent datagram sent, for retransmission.
	lastMessage []byte
	// acceptedResponse is the Response the initiator verified, so a
	// retransmitted copy can be answered with the cached Confirm.
	acceptedResponse []byte

	timing      Timing
	startedAt   int64
	nextRetryAt int64
	attempts    int

	mu sync.Mutex
}

// NewInitiator creates a handshake as initiator.
func NewInitiator(config InitiatorConfig) (*Handshake, error) {
	if config.LocalStatic == nil || config.RemoteStatic == nil {
		return nil, fmt.Errorf("%w: missing static key", crypto.ErrInvalidKeyEncoding)
	}
	if len(config.LocalBlob) == 0 || len(config.LocalBlob) > MaxStaticBlobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(config.LocalBlob))
	}
	if config.LocalSessionID == message.HandshakeSessionID || config.LocalSessionID > message.MaxSessionID {
		return nil, fmt.Errorf("handshake: invalid local session ID %d", config.LocalSessionID)
	}

	return &Handshake{
		role:           RoleInitiator,
		state:          StateIdle,
		localStatic:    config.LocalStatic,
		localBlob:      append([]byte(nil), config.LocalBlob...),
		remoteStatic:   config.RemoteStatic,
		psk:            append([]byte(nil), config.PreSharedKey...),
		metadata:       append([]byte(nil), config.Metadata...),
		localSessionID: config.LocalSessionID,
		timing:         config.Timing,
	}, nil
}

// Start generates the ephemeral key and returns the Init datagram.
func (hs *Handshake) Start(now int64) ([]byte, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.role != RoleInitiator {
		return nil, fmt.Errorf("%w: Start() only valid for initiator", ErrInvalidState)
	}
	if hs.state != StateIdle {
		return nil, fmt.Errorf("%w: expected Idle state, got %s", ErrInvalidState, hs.state)
	}

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephPub := eph.PublicKeyBytes()
	idBytes := encodeSessionID(hs.localSessionID)
	header := encodeHeader(message.PacketTypeInit, message.HandshakeSessionID)

	s := newSymmetricState()
	s.mixHash(hs.remoteStatic.Bytes())
	s.mixHash(header)
	s.mixHash(ephPub, idBytes)
	if err := s.mixDH(eph, hs.remoteStatic); err != nil {
		return nil, err
	}
	c, err := s.encryptAndHash(encodeInitPayload(hs.localBlob, hs.metadata))
	if err != nil {
		return nil, err
	}
	if err := s.mixDH(hs.localStatic, hs.remoteStatic); err != nil {
		return nil, err
	}
	if err := s.mixKey(hs.psk); err != nil {
		return nil, err
	}

	msg := make([]byte, 0, len(header)+initFixedSize+len(c))
	msg = append(msg, header...)
	msg = append(msg, idBytes...)
	msg = append(msg, ephPub...)
	msg = append(msg, c...)

	hs.ephemeral = eph
	hs.ephemeralHash = crypto.SHA384(ephPub)
	hs.sym = s
	hs.lastMessage = msg
	hs.state = StateSentInit
	hs.startTimers(now)

	return append([]byte(nil), msg...), nil
}

// HandleResponse verifies a Response datagram and returns the Confirm
// datagram (initiator only).
//
// A Response that fails verification leaves the handshake untouched so that
// a forged packet cannot abort a genuine negotiation. A byte-identical copy
// of the already accepted Response returns the cached Confirm again.
func (hs *Handshake) HandleResponse(datagram []byte, now int64) ([]byte, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.role != RoleInitiator {
		return nil, fmt.Errorf("%w: HandleResponse() only valid for initiator", ErrInvalidState)
	}
	if hs.state == StateEstablished && hs.acceptedResponse != nil {
		if bytes.Equal(datagram, hs.acceptedResponse) {
			return append([]byte(nil), hs.lastMessage...), nil
		}
		return nil, fmt.Errorf("%w: response after establishment", ErrInvalidState)
	}
	if hs.state != StateSentInit {
		return nil, fmt.Errorf("%w: expected SentInit state, got %s", ErrInvalidState, hs.state)
	}

	if len(datagram) != ResponseSize {
		return nil, errMalformed("response is %d bytes, want %d", len(datagram), ResponseSize)
	}
	var h message.Header
	if _, err := h.Decode(datagram); err != nil {
		return nil, err
	}
	if h.Type != message.PacketTypeResponse || h.SessionID != hs.localSessionID {
		return nil, errMalformed("unexpected %s for session %d", h.Type, h.SessionID)
	}

	body := datagram[message.CommonHeaderSize:]
	ridBytes := body[:message.SessionIDSize]
	rid := binary.BigEndian.Uint64(ridBytes)
	if rid == message.HandshakeSessionID || rid > message.MaxSessionID {
		return nil, errMalformed("responder session ID %d", rid)
	}
	ephPub := body[message.SessionIDSize:initFixedSize]
	remoteEph, err := crypto.ParsePublicKey(ephPub)
	if err != nil {
		return nil, err
	}
	tag := body[initFixedSize:]

	s := hs.sym.clone()
	s.mixHash(datagram[:message.CommonHeaderSize])
	s.mixHash(ephPub, ridBytes)
	if err := s.mixDH(hs.ephemeral, remoteEph); err != nil {
		s.zeroize()
		return nil, err
	}
	if err := s.mixDH(hs.localStatic, remoteEph); err != nil {
		s.zeroize()
		return nil, err
	}
	if _, err := s.decryptAndHash(tag); err != nil {
		s.zeroize()
		return nil, fmt.Errorf("response: %w", err)
	}

	hs.sym.zeroize()
	hs.sym = s
	hs.remoteSessionID = rid
	hs.remoteEphemeral = remoteEph
	hs.state = StateReceivedResponse

	header := encodeHeader(message.PacketTypeConfirm, rid)
	confirmTag, err := s.confirmTag(header)
	if err != nil {
		return nil, err
	}
	if err := hs.establish(); err != nil {
		return nil, err
	}

	hs.lastMessage = append(header, confirmTag...)
	hs.acceptedResponse = append([]byte(nil), datagram...)
	return append([]byte(nil), hs.lastMessage...), nil
}

// ReadInit decrypts an Init datagram addressed to localStatic and returns a
// responder handshake in StateReceivedInit. The caller inspects
// RemoteStaticBlob(), decides whether to admit the peer, and then calls
// Accept. Nothing is retained if the caller drops the returned handshake.
func ReadInit(localStatic *crypto.KeyPair, datagram []byte, timing Timing) (*Handshake, error) {
	var h message.Header
	n, err := h.Decode(datagram)
	if err != nil {
		return nil, err
	}
	if h.Type != message.PacketTypeInit {
		return nil, errMalformed("expected Init, got %s", h.Type)
	}

	body := datagram[n:]
	if len(body) < initFixedSize+blobLenSize+crypto.TagSize {
		return nil, errMalformed("init body is %d bytes", len(body))
	}
	idBytes := body[:message.SessionIDSize]
	iid := binary.BigEndian.Uint64(idBytes)
	if iid == message.HandshakeSessionID || iid > message.MaxSessionID {
		return nil, errMalformed("initiator session ID %d", iid)
	}
	ephPub := body[message.SessionIDSize:initFixedSize]
	remoteEph, err := crypto.ParsePublicKey(ephPub)
	if err != nil {
		return nil, err
	}
	c := body[initFixedSize:]

	s := newSymmetricState()
	s.mixHash(localStatic.PublicKeyBytes())
	s.mixHash(datagram[:n])
	s.mixHash(ephPub, idBytes)
	if err := s.mixDH(localStatic, remoteEph); err != nil {
		return nil, err
	}
	payload, err := s.decryptAndHash(c)
	if err != nil {
		s.zeroize()
		return nil, fmt.Errorf("init: %w", err)
	}
	blob, metadata, err := decodeInitPayload(payload)
	crypto.Zeroize(payload)
	if err != nil {
		s.zeroize()
		return nil, err
	}

	return &Handshake{
		role:            RoleResponder,
		state:           StateReceivedInit,
		localStatic:     localStatic,
		remoteBlob:      blob,
		metadata:        metadata,
		remoteSessionID: iid,
		remoteEphemeral: remoteEph,
		ephemeralHash:   crypto.SHA384(ephPub),
		sym:             s,
		timing:          timing,
	}, nil
}

// Accept admits the initiator identified by remoteStatic and returns the
// Response datagram (responder only).
func (hs *Handshake) Accept(remoteStatic *crypto.PublicKey, psk []byte, localSessionID uint64, now int64) ([]byte, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.role != RoleResponder {
		return nil, fmt.Errorf("%w: Accept() only valid for responder", ErrInvalidState)
	}
	if hs.state != StateReceivedInit {
		return nil, fmt.Errorf("%w: expected ReceivedInit state, got %s", ErrInvalidState, hs.state)
	}
	if remoteStatic == nil {
		return nil, fmt.Errorf("%w: missing remote static key", crypto.ErrInvalidKeyEncoding)
	}
	if localSessionID == message.HandshakeSessionID || localSessionID > message.MaxSessionID {
		return nil, fmt.Errorf("handshake: invalid local session ID %d", localSessionID)
	}

	s := hs.sym
	if err := s.mixDH(hs.localStatic, remoteStatic); err != nil {
		return nil, err
	}
	if err := s.mixKey(psk); err != nil {
		return nil, err
	}

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephPub := eph.PublicKeyBytes()
	idBytes := encodeSessionID(localSessionID)
	header := encodeHeader(message.PacketTypeResponse, hs.remoteSessionID)

	s.mixHash(header)
	s.mixHash(ephPub, idBytes)
	if err := s.mixDH(eph, hs.remoteEphemeral); err != nil {
		return nil, err
	}
	if err := s.mixDH(eph, remoteStatic); err != nil {
		return nil, err
	}
	tag, err := s.encryptAndHash(nil)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 0, ResponseSize)
	msg = append(msg, header...)
	msg = append(msg, idBytes...)
	msg = append(msg, ephPub...)
	msg = append(msg, tag...)

	hs.remoteStatic = remoteStatic
	hs.psk = append([]byte(nil), psk...)
	hs.localSessionID = localSessionID
	hs.ephemeral = eph
	hs.lastMessage = msg
	hs.state = StateSentResponse
	hs.startTimers(now)

	return append([]byte(nil), msg...), nil
}

// HandleConfirm verifies the Confirm datagram (responder only).
func (hs *Handshake) HandleConfirm(datagram []byte) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.role != RoleResponder {
		return fmt.Errorf("%w: HandleConfirm() only valid for responder", ErrInvalidState)
	}
	if hs.state != StateSentResponse {
		return fmt.Errorf("%w: expected SentResponse state, got %s", ErrInvalidState, hs.state)
	}
	if len(datagram) != ConfirmSize {
		return errMalformed("confirm is %d bytes, want %d", len(datagram), ConfirmSize)
	}
	var h message.Header
	if _, err := h.Decode(datagram); err != nil {
		return err
	}
	if h.Type != message.PacketTypeConfirm || h.SessionID != hs.localSessionID {
		return errMalformed("unexpected %s for session %d", h.Type, h.SessionID)
	}

	want, err := hs.sym.confirmTag(datagram[:message.CommonHeaderSize])
	if err != nil {
		return err
	}
	if !crypto.HMACEqual(want, datagram[message.CommonHeaderSize:]) {
		return fmt.Errorf("confirm: %w", crypto.ErrAuthenticationFailed)
	}

	return hs.establish()
}

// establish derives the final keys and drops ephemeral material.
// PendingKeys returns the session keys a responder in SentResponse will
// hold once the initiator is confirmed. The handshake state is unchanged.
func (hs *Handshake) PendingKeys() (*Keys, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.role != RoleResponder || hs.state != StateSentResponse {
		return nil, fmt.Errorf("%w: no pending keys in %s state", ErrInvalidState, hs.state)
	}
	return hs.sym.split()
}

// ConfirmImplicitly completes a responder handshake without a Confirm
// datagram. The caller must first have authenticated a transport packet
// under PendingKeys, which only the initiator can produce.
func (hs *Handshake) ConfirmImplicitly() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.role != RoleResponder || hs.state != StateSentResponse {
		return fmt.Errorf("%w: expected SentResponse state, got %s", ErrInvalidState, hs.state)
	}
	return hs.establish()
}

// Caller must hold hs.mu.
func (hs *Handshake) establish() error {
	keys, err := hs.sym.split()
	if err != nil {
		return err
	}
	hs.keys = keys
	hs.sym.zeroize()
	hs.sym = nil
	hs.ephemeral = nil
	crypto.Zeroize(hs.psk)
	hs.state = StateEstablished
	return nil
}

func (hs *Handshake) startTimers(now int64) {
	hs.startedAt = now
	hs.attempts = 1
	hs.nextRetryAt = now + hs.timing.RetryIntervalMs
}

// Service drives retransmission and expiry. It returns the datagram to
// retransmit (if one is due), whether the negotiation has just expired, and
// the next time Service needs to run (0 when nothing is pending).
func (hs *Handshake) Service(now int64) (resend []byte, expired bool, next int64) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	// An initiator that has not sent its Init yet has no timers running.
	if hs.state.IsTerminal() || hs.state == StateIdle {
		return nil, false, 0
	}

	deadline := hs.startedAt + hs.timing.TimeoutMs
	if hs.timing.TimeoutMs > 0 && now >= deadline {
		hs.expire()
		return nil, true, 0
	}

	awaiting := hs.state == StateSentInit || hs.state == StateSentResponse
	if awaiting && hs.timing.RetryIntervalMs > 0 && now >= hs.nextRetryAt {
		resend = append([]byte(nil), hs.lastMessage...)
		hs.attempts++
		hs.nextRetryAt = now + hs.timing.RetryIntervalMs
	}

	next = deadline
	if awaiting && hs.timing.RetryIntervalMs > 0 && hs.nextRetryAt < next {
		next = hs.nextRetryAt
	}
	return resend, false, next
}

// Expire abandons the negotiation and erases all secret material.
func (hs *Handshake) Expire() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.expire()
}

func (hs *Handshake) expire() {
	if hs.sym != nil {
		hs.sym.zeroize()
		hs.sym = nil
	}
	hs.keys.Zeroize()
	hs.keys = nil
	hs.ephemeral = nil
	crypto.Zeroize(hs.psk)
	hs.lastMessage = nil
	hs.state = StateExpired
}

// Keys returns the derived key material. Only valid once Established.
func (hs *Handshake) Keys() (*Keys, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.state != StateEstablished || hs.keys == nil {
		return nil, fmt.Errorf("%w: handshake not established", ErrInvalidState)
	}
	return hs.keys, nil
}

// LastMessage returns a copy of the most recently sent datagram.
func (hs *Handshake) LastMessage() []byte {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]byte(nil), hs.lastMessage...)
}

// Role returns the local role.
func (hs *Handshake) Role() Role {
	return hs.role
}

// State returns the current state.
func (hs *Handshake) State() State {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.state
}

// Attempts returns how many times the last message has been sent.
func (hs *Handshake) Attempts() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.attempts
}

// LocalSessionID returns the session ID assigned by this side.
func (hs *Handshake) LocalSessionID() uint64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.localSessionID
}

// RemoteSessionID returns the peer's session ID, or 0 before it is known.
func (hs *Handshake) RemoteSessionID() uint64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.remoteSessionID
}

// RemoteStaticBlob returns the identity blob the initiator sent (responder only).
func (hs *Handshake) RemoteStaticBlob() []byte {
	return hs.remoteBlob
}

// RemoteStatic returns the peer's static public key once known.
func (hs *Handshake) RemoteStatic() *crypto.PublicKey {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.remoteStatic
}

// Metadata returns the metadata sent (initiator) or received (responder).
func (hs *Handshake) Metadata() []byte {
	return hs.metadata
}

// EphemeralHash identifies the initiator's ephemeral key. Responders use it
// to recognize retransmitted Init packets.
func (hs *Handshake) EphemeralHash() [crypto.SHA384LenBytes]byte {
	return hs.ephemeralHash
}

// StartedAt returns the time the last handshake message was first sent.
func (hs *Handshake) StartedAt() int64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.startedAt
}
