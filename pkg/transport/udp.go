package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// DefaultPort is the default UDP port of a zssp node.
const DefaultPort = 9993

type udpState int

const (
	udpIdle udpState = iota
	udpRunning
	udpStopped
)

// UDPStats counts datagrams moved by a UDP transport.
type UDPStats struct {
	Received   uint64
	Sent       uint64
	ReadErrors uint64
}

// UDP carries datagrams over a net.PacketConn. The conn is usually a UDP
// socket, but any PacketConn works, including the endpoints of a Pipe.
//
// Received datagrams are handed to the handler on a single goroutine, in
// arrival order.
type UDP struct {
	conn    net.PacketConn
	handler Handler
	log     logging.LeveledLogger

	mu    sync.Mutex
	state udpState
	// loopDone is closed when the read goroutine returns.
	loopDone chan struct{}

	received   atomic.Uint64
	sent       atomic.Uint64
	readErrors atomic.Uint64
}

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Conn, when set, is used instead of binding ListenAddr. The transport
	// takes ownership and closes it on Stop.
	Conn net.PacketConn

	// ListenAddr is bound when Conn is nil. Empty picks an ephemeral port.
	ListenAddr string

	// Handler receives every datagram. Required.
	Handler Handler

	// LoggerFactory creates the "udp" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// NewUDP binds the socket described by config. Datagrams are not read
// until Start.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	conn := config.Conn
	if conn == nil {
		var err error
		if conn, err = bindUDP(config.ListenAddr); err != nil {
			return nil, err
		}
	}

	u := &UDP{conn: conn, handler: config.Handler, loopDone: make(chan struct{})}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("udp")
	}
	return u, nil
}

func bindUDP(addr string) (net.PacketConn, error) {
	if addr == "" {
		addr = ":0"
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return conn, nil
}

// Start launches the read goroutine.
func (u *UDP) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state {
	case udpRunning:
		return ErrAlreadyStarted
	case udpStopped:
		return ErrClosed
	}
	u.state = udpRunning
	go u.readLoop()

	if u.log != nil {
		u.log.Infof("reading datagrams on %s", u.conn.LocalAddr())
	}
	return nil
}

// Stop closes the socket. If the read goroutine was started, Stop returns
// only after it has delivered its last datagram.
func (u *UDP) Stop() error {
	u.mu.Lock()
	prev := u.state
	u.state = udpStopped
	u.mu.Unlock()
	if prev == udpStopped {
		return ErrClosed
	}

	// The deadline wakes a ReadFrom on conns whose Close does not.
	_ = u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	if prev == udpRunning {
		<-u.loopDone
	}
	if u.log != nil {
		u.log.Debugf("stopped after %d datagrams in, %d out", u.received.Load(), u.sent.Load())
	}
	return err
}

// Send writes data as one datagram to addr.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	switch {
	case u.stopped():
		return ErrClosed
	case addr == nil:
		return ErrInvalidAddress
	case len(data) > MaxDatagramSize:
		return fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(data))
	}
	if _, err := u.conn.WriteTo(data, addr); err != nil {
		if u.log != nil {
			u.log.Debugf("write to %v: %v", addr, err)
		}
		return err
	}
	u.sent.Add(1)
	return nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Stats returns the datagram counters.
func (u *UDP) Stats() UDPStats {
	return UDPStats{
		Received:   u.received.Load(),
		Sent:       u.sent.Load(),
		ReadErrors: u.readErrors.Load(),
	}
}

func (u *UDP) stopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == udpStopped
}

func (u *UDP) readLoop() {
	defer close(u.loopDone)

	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		switch {
		case err == nil && n > 0:
			u.received.Add(1)
			u.handler(&Datagram{Data: append([]byte(nil), buf[:n]...), Addr: addr})
		case err == nil:
		case u.stopped():
			return
		case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
			if u.log != nil {
				u.log.Warnf("socket closed while running: %v", err)
			}
			return
		default:
			u.readErrors.Add(1)
			if u.log != nil {
				u.log.Warnf("read: %v", err)
			}
		}
	}
}

var _ Transport = (*UDP)(nil)
