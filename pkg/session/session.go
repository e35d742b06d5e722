package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/fragment"
	"github.com/backkem/zssp/pkg/handshake"
)

// Path is an opaque physical path hint, such as a *net.UDPAddr. The session
// hands it back to the send callback unchanged and updates it to the path of
// the most recent authenticated packet.
type Path = any

// SendFunc emits one datagram. It is invoked while the session lock is held
// and must not call back into the same session.
type SendFunc func(path Path, datagram []byte)

// Hooks are optional callbacks for session lifecycle events. They run after
// the session lock is released, on the goroutine that caused the event.
type Hooks struct {
	// OnEstablished is called once the handshake completes.
	OnEstablished func(s *Session)

	// OnRatchet is called when a new key generation becomes current.
	OnRatchet func(s *Session, generation uint64)

	// OnClosed is called once when the session expires or is closed.
	OnClosed func(s *Session, reason error)

	// OnMessageDropped is called when a partially received message is
	// abandoned because it timed out or was pushed out by newer ones.
	OnMessageDropped func(s *Session)
}

// Config holds the settings shared by initiator and responder sessions.
type Config struct {
	// Params are the session limits. Zero values are replaced by defaults.
	Params Params

	// Random draws the rekey jitter.
	// Default: DefaultRandomSource
	Random RandomSource

	// Hooks receive lifecycle events. Optional.
	Hooks Hooks

	// Path is the initial path hint.
	Path Path

	// AppData is opaque application state carried with the session.
	AppData any

	// ReassemblyBudget caps fragment bytes buffered across every session
	// that shares it. Optional.
	ReassemblyBudget *fragment.Budget
}

// Stats is a snapshot of session counters.
type Stats struct {
	// Generation is the current key generation.
	Generation uint64

	// PacketsSealed is the number of packets sealed under the current generation.
	PacketsSealed uint64

	// MessagesSent and BytesSent count application messages since the last rekey.
	MessagesSent uint64
	BytesSent    uint64

	// MessagesReceived and BytesReceived count delivered application
	// messages since the last rekey.
	MessagesReceived uint64
	BytesReceived    uint64

	// Ratchets is the number of completed key ratchets.
	Ratchets uint64

	// AuthFailures is the total number of packets that failed authentication.
	AuthFailures uint64

	// ReplaysDetected is the total number of packets rejected as replays.
	ReplaysDetected uint64

	// LastRekeyAt is the time the current generation became current.
	LastRekeyAt int64

	// RekeyDeadline is the time at which a time-based ratchet starts.
	RekeyDeadline int64
}

// rekeyOffer is the offerer side of an in-flight ratchet.
type rekeyOffer struct {
	ephemeral   *crypto.KeyPair
	public      []byte
	hash        []byte
	nextRetryAt int64
}

// Session is one secure channel between the local identity and a peer.
type Session struct {
	role  Role
	state State

	localID  uint64
	remoteID uint64

	path    Path
	appData any

	remoteStatic *crypto.PublicKey
	metadata     []byte

	hs *handshake.Handshake

	current  *generation
	previous *generation
	next     *generation

	// Offerer side of a ratchet.
	offer *rekeyOffer
	// awaitingSwitch is set after the offerer rotated until the peer is seen
	// using the new generation.
	awaitingSwitch bool
	lastConfirmAt  int64

	// Acker side of a ratchet.
	ackHash    []byte
	ackPayload []byte

	reassembler *fragment.Reassembler

	params Params
	random RandomSource
	hooks  Hooks

	createdAt     int64
	establishedAt int64
	rekeyAt       int64
	lastNow       int64

	authFailures int
	stats        Stats
	reason       error

	events []func()
	mu     sync.Mutex
}

func newSession(role Role, config Config, now int64) (*Session, error) {
	params := config.Params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	random := config.Random
	if random == nil {
		random = DefaultRandomSource
	}

	s := &Session{
		role:      role,
		state:     StateNegotiating,
		path:      config.Path,
		appData:   config.AppData,
		params:    params,
		random:    random,
		hooks:     config.Hooks,
		createdAt: now,
		lastNow:   now,
	}

	r, err := fragment.NewReassembler(fragment.ReassemblerConfig{
		MaxMessages: params.MaxMessagesInFlight,
		TimeoutMs:   params.FragmentTimeoutMs,
		Budget:      config.ReassemblyBudget,
		OnDrop:      s.messageDroppedLocked,
	})
	if err != nil {
		return nil, err
	}
	s.reassembler = r
	return s, nil
}

// messageDroppedLocked runs from the reassembler, under s.mu.
func (s *Session) messageDroppedLocked(uint32, uint64) {
	if s.hooks.OnMessageDropped != nil {
		s.events = append(s.events, func() { s.hooks.OnMessageDropped(s) })
	}
}

// NewInitiator creates a session that will open a handshake towards the peer
// described by hsConfig. The handshake timing defaults to the session's
// retry interval and outgoing negotiation timeout. Call Start to send Init.
func NewInitiator(hsConfig handshake.InitiatorConfig, config Config, now int64) (*Session, error) {
	s, err := newSession(RoleInitiator, config, now)
	if err != nil {
		return nil, err
	}
	if hsConfig.Timing.RetryIntervalMs == 0 {
		hsConfig.Timing.RetryIntervalMs = s.params.RetryIntervalMs
	}
	if hsConfig.Timing.TimeoutMs == 0 {
		hsConfig.Timing.TimeoutMs = s.params.OutgoingNegotiationTimeoutMs
	}

	hs, err := handshake.NewInitiator(hsConfig)
	if err != nil {
		return nil, err
	}
	s.hs = hs
	s.localID = hsConfig.LocalSessionID
	s.remoteStatic = hsConfig.RemoteStatic
	s.metadata = append([]byte(nil), hsConfig.Metadata...)
	return s, nil
}

// NewResponder wraps a responder handshake that has already accepted an Init
// (state SentResponse). Call Start to send the Response.
func NewResponder(hs *handshake.Handshake, config Config, now int64) (*Session, error) {
	if hs == nil || hs.Role() != RoleResponder {
		return nil, fmt.Errorf("%w: responder handshake required", handshake.ErrInvalidState)
	}
	if st := hs.State(); st != handshake.StateSentResponse {
		return nil, fmt.Errorf("%w: expected SentResponse state, got %s", handshake.ErrInvalidState, st)
	}

	s, err := newSession(RoleResponder, config, now)
	if err != nil {
		return nil, err
	}
	s.hs = hs
	s.localID = hs.LocalSessionID()
	s.remoteID = hs.RemoteSessionID()
	s.remoteStatic = hs.RemoteStatic()
	s.metadata = hs.Metadata()
	return s, nil
}

// unlock releases the session lock and then runs queued hooks.
func (s *Session) unlock() {
	events := s.events
	s.events = nil
	s.mu.Unlock()
	for _, fn := range events {
		fn()
	}
}

// Start sends the first handshake message of this side: Init for an
// initiator, Response for a responder. Calling it again on a responder that
// is still negotiating resends the cached Response.
func (s *Session) Start(send SendFunc, now int64) error {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateNegotiating || s.hs == nil {
		return fmt.Errorf("%w: session is %s", handshake.ErrInvalidState, s.state)
	}
	s.lastNow = now

	var msg []byte
	if s.role == RoleInitiator {
		init, err := s.hs.Start(now)
		if err != nil {
			return err
		}
		msg = init
	} else {
		msg = s.hs.LastMessage()
	}
	send(s.path, msg)
	return nil
}

// HandleResponse processes a Response datagram (initiator only). The Confirm
// datagram is sent through send. A retransmitted copy of the accepted
// Response triggers a retransmission of Confirm.
func (s *Session) HandleResponse(send SendFunc, path Path, datagram []byte, now int64) error {
	s.mu.Lock()
	defer s.unlock()

	if s.role != RoleInitiator {
		return fmt.Errorf("%w: Response sent to responder session", handshake.ErrInvalidState)
	}
	if s.state.IsTerminal() {
		return s.terminalErrLocked()
	}
	if s.hs == nil {
		return fmt.Errorf("%w: handshake already confirmed", handshake.ErrInvalidState)
	}
	s.lastNow = now

	confirm, err := s.hs.HandleResponse(datagram, now)
	if err != nil {
		return err
	}
	s.path = path
	send(path, confirm)

	if s.state == StateNegotiating {
		s.remoteID = s.hs.RemoteSessionID()
		return s.establishLocked(now)
	}
	return nil
}

// HandleConfirm processes a Confirm datagram (responder only). Returns true
// when this call completed the handshake. A Confirm for an already
// established session is ignored.
func (s *Session) HandleConfirm(path Path, datagram []byte, now int64) (bool, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.role != RoleResponder {
		return false, fmt.Errorf("%w: Confirm sent to initiator session", handshake.ErrInvalidState)
	}
	switch s.state {
	case StateEstablished:
		return false, nil
	case StateExpired, StateClosed:
		return false, s.terminalErrLocked()
	}
	s.lastNow = now

	if err := s.hs.HandleConfirm(datagram); err != nil {
		return false, err
	}
	s.path = path
	if err := s.establishLocked(now); err != nil {
		return false, err
	}
	return true, nil
}

// establishLocked installs generation 0 from the handshake output.
func (s *Session) establishLocked(now int64) error {
	keys, err := s.hs.Keys()
	if err != nil {
		return err
	}
	g, err := newGeneration(0, keys.RatchetKey, s.role, s.params.ReplayWindowSize, now)
	keys.Zeroize()
	if err != nil {
		s.closeLocked(StateExpired, err)
		return err
	}
	s.installLocked(g, now)
	return nil
}

// installLocked makes g the first generation of a newly established session.
func (s *Session) installLocked(g *generation, now int64) {
	s.current = g
	s.state = StateEstablished
	s.establishedAt = now
	s.rekeyAt = rekeyDeadline(now, s.params, s.random)
	s.stats.LastRekeyAt = now

	// The initiator keeps the handshake to answer retransmitted Responses
	// until the responder is seen sending under the session keys.
	if s.role == RoleResponder {
		s.hs = nil
	}

	if s.hooks.OnEstablished != nil {
		s.events = append(s.events, func() { s.hooks.OnEstablished(s) })
	}
}

// Close tears the session down and erases all key material. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.unlock()
	s.closeLocked(StateClosed, ErrClosedByApplication)
}

// closeLocked moves the session to a terminal state.
func (s *Session) closeLocked(state State, reason error) {
	if s.state.IsTerminal() {
		return
	}
	s.state = state
	s.reason = reason

	s.current.zeroize()
	s.previous.zeroize()
	s.next.zeroize()
	s.current, s.previous, s.next = nil, nil, nil
	s.offer = nil
	s.awaitingSwitch = false
	crypto.ZeroizeAll(s.ackHash, s.ackPayload)
	s.ackHash, s.ackPayload = nil, nil
	s.reassembler.Reset()
	if s.hs != nil {
		s.hs.Expire()
		s.hs = nil
	}

	if s.hooks.OnClosed != nil {
		s.events = append(s.events, func() { s.hooks.OnClosed(s, reason) })
	}
}

// terminalErrLocked returns the error reported by operations on a torn down session.
func (s *Session) terminalErrLocked() error {
	if errors.Is(s.reason, ErrNegotiationTimedOut) {
		return s.reason
	}
	return fmt.Errorf("%w: %v", ErrSessionExpired, s.reason)
}

// expireLocked tears the session down by policy and returns the error to report.
func (s *Session) expireLocked(reason error) error {
	s.closeLocked(StateExpired, reason)
	return s.terminalErrLocked()
}

// LocalID returns the session ID assigned by this side.
func (s *Session) LocalID() uint64 {
	return s.localID
}

// RemoteID returns the peer's session ID, or 0 before the initiator has
// received a Response.
func (s *Session) RemoteID() uint64 {
	s.mu.Lock()
	defer s.unlock()
	return s.remoteID
}

// Role returns the local role.
func (s *Session) Role() Role {
	return s.role
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.unlock()
	return s.state
}

// Established reports whether the session can carry traffic.
func (s *Session) Established() bool {
	return s.State() == StateEstablished
}

// Path returns the current path hint.
func (s *Session) Path() Path {
	s.mu.Lock()
	defer s.unlock()
	return s.path
}

// AppData returns the application data attached at creation.
func (s *Session) AppData() any {
	return s.appData
}

// RemoteStatic returns the peer's static public key.
func (s *Session) RemoteStatic() *crypto.PublicKey {
	return s.remoteStatic
}

// Metadata returns the handshake metadata: sent by an initiator, received
// by a responder.
func (s *Session) Metadata() []byte {
	return s.metadata
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() int64 {
	return s.createdAt
}

// EstablishedAt returns the time the handshake completed, or 0.
func (s *Session) EstablishedAt() int64 {
	s.mu.Lock()
	defer s.unlock()
	return s.establishedAt
}

// CloseReason returns why the session was torn down, or nil while it is live.
func (s *Session) CloseReason() error {
	s.mu.Lock()
	defer s.unlock()
	return s.reason
}

// KeyInfo returns the current key generation and a fingerprint of its
// ratchet key. Both peers observe the same values for the same generation.
// ok is false until the session is established and after it is torn down.
func (s *Session) KeyInfo() (generation uint64, fingerprint []byte, ok bool) {
	s.mu.Lock()
	defer s.unlock()
	if s.state != StateEstablished || s.current == nil {
		return 0, nil, false
	}
	return uint64(s.current.number), append([]byte(nil), s.current.fingerprint...), true
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.unlock()
	st := s.stats
	st.RekeyDeadline = s.rekeyAt
	if s.current != nil {
		st.Generation = uint64(s.current.number)
		st.PacketsSealed = s.current.counter.Current()
	}
	return st
}

// String returns a short description for logs.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s local=%#x)", s.role, s.localID)
}
