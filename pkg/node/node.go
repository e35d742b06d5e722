// Package node runs a zssp Context over a datagram socket.
//
// The Context itself performs no I/O and keeps no timers. A Node owns the
// socket, feeds every received datagram to Context.Receive, and calls
// Context.Service on a timer at the interval it asks for.
package node

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
	"go.uber.org/multierr"

	"github.com/backkem/zssp/pkg/session"
	"github.com/backkem/zssp/pkg/transport"
	"github.com/backkem/zssp/pkg/zssp"
)

// Config holds all configuration for a Node.
type Config struct {
	// Application supplies the identity and admission policy. Required.
	Application zssp.Application

	// Context configures the protocol engine. Its LoggerFactory defaults to
	// the node's.
	Context zssp.Config

	// ListenAddr is the UDP address to bind (default ":9993").
	// Ignored if Conn is set.
	ListenAddr string

	// Conn is an optional pre-existing PacketConn, such as a transport.Pipe
	// endpoint.
	Conn net.PacketConn

	// Clock drives the service timer and protocol time.
	// Default: the wall clock
	Clock clock.Clock

	// LoggerFactory creates the "node" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory

	// Callbacks - Optional. They run on the socket's read goroutine.
	OnMessage    func(s *session.Session, data []byte)
	OnNewSession func(s *session.Session, appData any)
}

// Node is a running zssp endpoint.
type Node struct {
	config Config
	ctx    *zssp.Context
	tr     transport.Transport
	clock  clock.Clock
	epoch  time.Time
	log    logging.LeveledLogger

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Node. The socket is bound immediately; datagrams are
// processed once Start is called.
func New(config Config) (*Node, error) {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Conn == nil && config.ListenAddr == "" {
		config.ListenAddr = fmt.Sprintf(":%d", transport.DefaultPort)
	}
	if config.Context.LoggerFactory == nil {
		config.Context.LoggerFactory = config.LoggerFactory
	}

	ctx, err := zssp.NewContext(config.Application, config.Context)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config: config,
		ctx:    ctx,
		clock:  config.Clock,
		epoch:  config.Clock.Now(),
		stopCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("node")
	}

	tr, err := transport.NewUDP(transport.UDPConfig{
		Conn:          config.Conn,
		ListenAddr:    config.ListenAddr,
		Handler:       n.handleDatagram,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, multierr.Append(err, ctx.Close())
	}
	n.tr = tr
	return n, nil
}

// Start begins receiving datagrams and servicing sessions.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return ErrStopped
	}
	if n.started {
		return ErrAlreadyStarted
	}
	if err := n.tr.Start(); err != nil {
		return err
	}
	n.started = true

	n.wg.Add(1)
	go n.serviceLoop()

	if n.log != nil {
		n.log.Infof("node started on %s", n.tr.LocalAddr())
	}
	return nil
}

// Stop closes every session and the socket.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	close(n.stopCh)
	n.mu.Unlock()

	n.wg.Wait()

	// The socket was bound by New even if the read loop never ran.
	err := multierr.Combine(n.ctx.Close(), n.tr.Stop())
	if n.log != nil {
		n.log.Info("node stopped")
	}
	return err
}

// Connect opens a session to the peer at addr.
func (n *Node) Connect(addr net.Addr, remote zssp.RemoteIdentity) (*session.Session, error) {
	if !n.running() {
		return nil, ErrNotStarted
	}
	return n.ctx.Open(n.send, addr, remote, n.Now())
}

// Send delivers data to the peer of s.
func (n *Node) Send(s *session.Session, data []byte) error {
	if !n.running() {
		return ErrNotStarted
	}
	if _, ok := s.Path().(net.Addr); !ok {
		return ErrInvalidPath
	}
	return s.Send(n.send, data)
}

// Context returns the underlying protocol engine.
func (n *Node) Context() *zssp.Context {
	return n.ctx
}

// LocalAddr returns the bound socket address.
func (n *Node) LocalAddr() net.Addr {
	return n.tr.LocalAddr()
}

// Now returns protocol time: milliseconds since the node was created.
func (n *Node) Now() int64 {
	return n.clock.Since(n.epoch).Milliseconds()
}

func (n *Node) running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && !n.stopped
}

// send is the zssp.SendFunc of this node.
func (n *Node) send(path zssp.Path, datagram []byte) {
	addr, ok := path.(net.Addr)
	if !ok {
		if n.log != nil {
			n.log.Warnf("dropping datagram for path %v: %v", path, ErrInvalidPath)
		}
		return
	}
	if err := n.tr.Send(datagram, addr); err != nil && n.log != nil {
		n.log.Debugf("send to %s failed: %v", addr, err)
	}
}

// handleDatagram runs on the transport's read goroutine.
func (n *Node) handleDatagram(d *transport.Datagram) {
	res, err := n.ctx.Receive(n.send, d.Addr, d.Data, n.Now())
	if err != nil {
		if n.log != nil {
			n.log.Tracef("datagram from %s dropped: %v", d.Addr, err)
		}
		return
	}

	switch res.Kind {
	case zssp.ResultOkData:
		if n.config.OnMessage != nil {
			n.config.OnMessage(res.Session, res.Data)
		}
	case zssp.ResultOkNewSession:
		if n.config.OnNewSession != nil {
			n.config.OnNewSession(res.Session, res.AppData)
		}
		if res.Data != nil && n.config.OnMessage != nil {
			n.config.OnMessage(res.Session, res.Data)
		}
	}
}

// serviceLoop calls Context.Service whenever its last requested interval
// has elapsed.
func (n *Node) serviceLoop() {
	defer n.wg.Done()

	wait := time.Duration(0)
	for {
		timer := n.clock.Timer(wait)
		select {
		case <-n.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		interval := n.ctx.Service(n.send, n.Now())
		wait = time.Duration(interval) * time.Millisecond
	}
}
