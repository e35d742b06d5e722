package zssp

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/logging"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/fragment"
	"github.com/backkem/zssp/pkg/handshake"
	"github.com/backkem/zssp/pkg/message"
	"github.com/backkem/zssp/pkg/session"
)

// Path is an opaque physical path hint handed back to SendFunc.
type Path = session.Path

// SendFunc emits one datagram on a path.
type SendFunc = session.SendFunc

type ephemeralHash = [crypto.SHA384LenBytes]byte

// Context holds the sessions of one local identity.
//
// All methods are safe for concurrent use. Operations on different sessions
// proceed in parallel.
type Context struct {
	app     Application
	config  Config
	log     logging.LeveledLogger
	metrics Metrics

	table   *session.Table
	expired *lru.Cache[uint64, error]

	// reassembly is shared by every session's reassembler.
	reassembly *fragment.Budget

	mu sync.Mutex
	// incoming indexes responder sessions by the hash of the initiator's
	// ephemeral key, so a retransmitted Init finds its session.
	incoming  map[ephemeralHash]*session.Session
	ephemeral map[uint64]ephemeralHash
	// pending counts incoming negotiations that have not completed.
	pending    int
	pendingIDs map[uint64]struct{}
	closed     bool
}

// NewContext creates a Context for the identity returned by app.
func NewContext(app Application, config Config) (*Context, error) {
	if app == nil {
		return nil, ErrApplicationRequired
	}
	if app.LocalIdentity() == nil {
		return nil, ErrIdentityRequired
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	expired, err := lru.New[uint64, error](config.ExpiredSessionMemory)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	c := &Context{
		app:        app,
		config:     config,
		metrics:    config.Metrics,
		table:      session.NewTable(config.MaxSessions),
		expired:    expired,
		reassembly: fragment.NewBudget(config.MaxReassemblyBytes),
		incoming:   make(map[ephemeralHash]*session.Session),
		ephemeral:  make(map[uint64]ephemeralHash),
		pendingIDs: make(map[uint64]struct{}),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("zssp")
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Context) Config() Config {
	return c.config
}

// Open starts a handshake with remote and returns the new initiator
// session. The Init datagram is sent before Open returns; the session
// becomes established when the Response is received.
func (c *Context) Open(send SendFunc, path Path, remote RemoteIdentity, now int64) (*session.Session, error) {
	if c.isClosed() {
		return nil, ErrContextClosed
	}
	if remote.PublicKey == nil {
		return nil, fmt.Errorf("%w: remote public key is required", ErrInvalidKeyEncoding)
	}

	id, err := c.table.AllocateID()
	if err != nil {
		return nil, c.tableErr(err)
	}
	s, err := session.NewInitiator(handshake.InitiatorConfig{
		LocalStatic:    c.app.LocalIdentity(),
		LocalBlob:      c.app.LocalStaticBlob(),
		RemoteStatic:   remote.PublicKey,
		PreSharedKey:   remote.PreSharedKey,
		Metadata:       remote.Metadata,
		LocalSessionID: id,
	}, c.sessionConfig(path, remote.AppData), now)
	if err != nil {
		return nil, err
	}
	if err := c.table.Add(s); err != nil {
		s.Close()
		return nil, c.tableErr(err)
	}
	if err := s.Start(c.countingSend(send), now); err != nil {
		c.table.RemoveIf(id, s)
		s.Close()
		return nil, err
	}

	c.metrics.SessionOpened(session.RoleInitiator.String())
	c.metrics.ActiveSessions(c.table.Count())
	if c.log != nil {
		c.log.Debugf("opened session %#x", id)
	}
	return s, nil
}

// Receive processes one datagram received on path.
//
// Errors describe why the packet was dropped; none of them affect other
// packets, and only the documented policy limits (usage ceiling, repeated
// authentication failures) affect the session itself.
func (c *Context) Receive(send SendFunc, path Path, datagram []byte, now int64) (ReceiveResult, error) {
	res, err := c.receive(send, path, datagram, now)
	if err != nil {
		c.metrics.PacketDropped(dropReason(err))
		if c.log != nil {
			c.log.Tracef("dropped packet: %v", err)
		}
	}
	return res, err
}

func (c *Context) receive(send SendFunc, path Path, datagram []byte, now int64) (ReceiveResult, error) {
	if c.isClosed() {
		return ReceiveResult{}, ErrContextClosed
	}
	c.metrics.DatagramReceived(len(datagram))

	h, _, err := message.Parse(datagram)
	if err != nil {
		return ReceiveResult{}, err
	}
	send = c.countingSend(send)

	if h.Type == message.PacketTypeInit {
		return c.receiveInit(send, path, datagram, now)
	}

	s := c.table.Find(h.SessionID)
	if s == nil {
		return ReceiveResult{}, c.unknownSessionErr(h.SessionID)
	}

	switch h.Type {
	case message.PacketTypeResponse:
		if err := s.HandleResponse(send, path, datagram, now); err != nil {
			return ReceiveResult{}, err
		}
		return ReceiveResult{Kind: ResultOk, Session: s}, nil

	case message.PacketTypeConfirm:
		completed, err := s.HandleConfirm(path, datagram, now)
		if err != nil {
			return ReceiveResult{}, err
		}
		if completed {
			return ReceiveResult{Kind: ResultOkNewSession, Session: s, AppData: s.AppData()}, nil
		}
		return ReceiveResult{Kind: ResultOk, Session: s}, nil

	default:
		data, established, err := s.ReceiveTransport(send, path, datagram, now)
		if errors.Is(err, fragment.ErrBudgetExhausted) {
			return ReceiveResult{}, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		if err != nil {
			return ReceiveResult{}, err
		}
		if established {
			return ReceiveResult{Kind: ResultOkNewSession, Session: s, AppData: s.AppData(), Data: data}, nil
		}
		if data != nil {
			return ReceiveResult{Kind: ResultOkData, Session: s, Data: data}, nil
		}
		return ReceiveResult{Kind: ResultOk, Session: s}, nil
	}
}

// receiveInit handles the first handshake packet of an incoming session.
func (c *Context) receiveInit(send SendFunc, path Path, datagram []byte, now int64) (ReceiveResult, error) {
	if !c.app.AllowIncomingSession() {
		c.metrics.IncomingRejected()
		return ReceiveResult{Kind: ResultRejected}, nil
	}

	p := c.config.Params
	hs, err := handshake.ReadInit(c.app.LocalIdentity(), datagram, handshake.Timing{
		RetryIntervalMs: p.RetryIntervalMs,
		TimeoutMs:       p.IncomingNegotiationTimeoutMs,
	})
	if err != nil {
		return ReceiveResult{}, err
	}
	key := hs.EphemeralHash()

	c.mu.Lock()
	if s, ok := c.incoming[key]; ok {
		c.mu.Unlock()
		hs.Expire()
		return c.duplicateInit(s, send, now)
	}
	if c.pending >= c.config.MaxIncomingNegotiations {
		c.mu.Unlock()
		hs.Expire()
		return ReceiveResult{}, fmt.Errorf("%w: %d incoming negotiations pending", ErrResourceExhausted, c.config.MaxIncomingNegotiations)
	}
	c.pending++
	c.mu.Unlock()

	s, err := c.admit(hs, path, now)
	if err != nil || s == nil {
		hs.Expire()
		c.mu.Lock()
		c.pending--
		c.mu.Unlock()
		if err != nil {
			return ReceiveResult{}, err
		}
		c.metrics.IncomingRejected()
		if c.log != nil {
			c.log.Debug("incoming session rejected by resolver")
		}
		return ReceiveResult{Kind: ResultRejected}, nil
	}

	c.mu.Lock()
	if other, ok := c.incoming[key]; ok {
		// The same Init was admitted concurrently; keep the first session.
		c.pending--
		c.mu.Unlock()
		c.table.RemoveIf(s.LocalID(), s)
		s.Close()
		return c.duplicateInit(other, send, now)
	}
	c.incoming[key] = s
	c.ephemeral[s.LocalID()] = key
	c.pendingIDs[s.LocalID()] = struct{}{}
	c.mu.Unlock()

	if err := s.Start(send, now); err != nil {
		s.Close()
		return ReceiveResult{}, err
	}

	c.metrics.SessionOpened(session.RoleResponder.String())
	c.metrics.ActiveSessions(c.table.Count())
	if c.log != nil {
		c.log.Debugf("accepted incoming session %#x from peer session %#x", s.LocalID(), s.RemoteID())
	}
	return ReceiveResult{Kind: ResultOk, Session: s}, nil
}

// admit resolves the initiator and creates the responder session. It
// returns a nil session without error when the resolver rejects the peer.
func (c *Context) admit(hs *handshake.Handshake, path Path, now int64) (*session.Session, error) {
	remote, ok := c.app.ResolveIdentity(hs.RemoteStaticBlob())
	if !ok || remote == nil || remote.PublicKey == nil {
		return nil, nil
	}

	id, err := c.table.AllocateID()
	if err != nil {
		return nil, c.tableErr(err)
	}
	if _, err := hs.Accept(remote.PublicKey, remote.PreSharedKey, id, now); err != nil {
		return nil, err
	}
	s, err := session.NewResponder(hs, c.sessionConfig(path, remote.AppData), now)
	if err != nil {
		return nil, err
	}
	if err := c.table.Add(s); err != nil {
		s.Close()
		return nil, c.tableErr(err)
	}
	return s, nil
}

// duplicateInit answers a retransmitted Init. A session still negotiating
// resends its Response; an established one ignores it.
func (c *Context) duplicateInit(s *session.Session, send SendFunc, now int64) (ReceiveResult, error) {
	if s.State() == session.StateNegotiating {
		if err := s.Start(send, now); err != nil {
			return ReceiveResult{}, err
		}
	}
	return ReceiveResult{Kind: ResultOk, Session: s}, nil
}

// Service performs all timed work: handshake retransmission and timeout,
// ratchet triggers and offer retries, and eviction of stale reassembly
// state and closed sessions. It returns the number of milliseconds until it
// should be called again.
func (c *Context) Service(send SendFunc, now int64) int64 {
	interval := c.config.Params.RetryIntervalMs
	if c.isClosed() {
		return interval
	}
	send = c.countingSend(send)

	next := now + interval
	for _, s := range c.table.Snapshot() {
		deadline, done := s.Service(send, now)
		if done {
			c.table.RemoveIf(s.LocalID(), s)
			continue
		}
		// A session that has not started its handshake reports no deadline.
		if deadline > 0 && deadline < next {
			next = deadline
		}
	}
	c.metrics.ActiveSessions(c.table.Count())

	if next <= now {
		return 1
	}
	return next - now
}

// Session returns the session with the given local ID, or nil.
func (c *Context) Session(id uint64) *session.Session {
	return c.table.Find(id)
}

// Sessions returns a snapshot of all sessions.
func (c *Context) Sessions() []*session.Session {
	return c.table.Snapshot()
}

// Close closes every session. The Context rejects further use.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, s := range c.table.Snapshot() {
		s.Close()
	}
	c.table.Clear()
	c.metrics.ActiveSessions(0)
	return nil
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sessionConfig builds the per-session config with the Context's hooks.
func (c *Context) sessionConfig(path Path, appData any) session.Config {
	return session.Config{
		Params: c.config.Params,
		Random: c.config.Random,
		Hooks: session.Hooks{
			OnEstablished:    c.onEstablished,
			OnRatchet:        c.onRatchet,
			OnClosed:         c.onClosed,
			OnMessageDropped: c.onMessageDropped,
		},
		Path:             path,
		AppData:          appData,
		ReassemblyBudget: c.reassembly,
	}
}

// countingSend wraps send to report datagram sizes.
func (c *Context) countingSend(send SendFunc) SendFunc {
	return func(path Path, datagram []byte) {
		c.metrics.DatagramSent(len(datagram))
		send(path, datagram)
	}
}

func (c *Context) onEstablished(s *session.Session) {
	c.releasePending(s.LocalID())
	c.metrics.SessionEstablished(s.Role().String())
	if c.log != nil {
		c.log.Infof("session %#x established with peer session %#x (%s)", s.LocalID(), s.RemoteID(), s.Role())
	}
	if c.config.OnSessionEstablished != nil {
		c.config.OnSessionEstablished(s)
	}
}

func (c *Context) onRatchet(s *session.Session, generation uint64) {
	c.metrics.Ratchet()
	if c.log != nil {
		c.log.Debugf("session %#x ratcheted to generation %d", s.LocalID(), generation)
	}
	if c.config.OnRatchet != nil {
		c.config.OnRatchet(s, generation)
	}
}

func (c *Context) onMessageDropped(s *session.Session) {
	c.metrics.PacketDropped("reassembly")
	if c.log != nil {
		c.log.Tracef("session %#x abandoned a partial message", s.LocalID())
	}
}

func (c *Context) onClosed(s *session.Session, reason error) {
	id := s.LocalID()
	if c.table.RemoveIf(id, s) {
		c.expired.Add(id, reason)
	}
	c.releasePending(id)
	c.mu.Lock()
	if key, ok := c.ephemeral[id]; ok {
		if c.incoming[key] == s {
			delete(c.incoming, key)
		}
		delete(c.ephemeral, id)
	}
	c.mu.Unlock()

	c.metrics.SessionClosed(closeReason(reason))
	c.metrics.ActiveSessions(c.table.Count())
	if c.log != nil {
		c.log.Infof("session %#x closed: %v", id, reason)
	}
	if c.config.OnSessionClosed != nil {
		c.config.OnSessionClosed(s, reason)
	}
}

// releasePending frees the negotiation slot held by an incoming session.
func (c *Context) releasePending(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pendingIDs[id]; ok {
		delete(c.pendingIDs, id)
		c.pending--
	}
}

// unknownSessionErr reports a packet for an ID not in the table.
func (c *Context) unknownSessionErr(id uint64) error {
	if reason, ok := c.expired.Get(id); ok {
		return fmt.Errorf("%w: session %#x: %v", ErrSessionExpired, id, reason)
	}
	return fmt.Errorf("%w: %#x", ErrUnknownSession, id)
}

// tableErr maps session table capacity errors to ErrResourceExhausted.
func (c *Context) tableErr(err error) error {
	if errors.Is(err, session.ErrSessionTableFull) || errors.Is(err, session.ErrSessionIDExhausted) {
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	return err
}

// dropReason labels a Receive error for metrics.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownProtocolVersion):
		return "version"
	case errors.Is(err, ErrReplayDetected):
		return "replay"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth"
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNegotiationTimedOut):
		return "expired"
	case errors.Is(err, ErrMalformedPacket):
		return "malformed"
	case errors.Is(err, ErrResourceExhausted):
		return "exhausted"
	default:
		return "other"
	}
}

// closeReason labels a session close reason for metrics.
func closeReason(reason error) string {
	switch {
	case errors.Is(reason, session.ErrClosedByApplication):
		return "closed"
	case errors.Is(reason, ErrNegotiationTimedOut):
		return "negotiation_timeout"
	case errors.Is(reason, session.ErrUsageCeiling):
		return "usage_ceiling"
	case errors.Is(reason, session.ErrTooManyAuthFailures):
		return "auth_failures"
	default:
		return "other"
	}
}
