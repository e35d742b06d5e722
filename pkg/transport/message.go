package transport

import "net"

// MaxDatagramSize is the largest datagram read or written.
const MaxDatagramSize = 65535

// Datagram is one received packet.
type Datagram struct {
	// Data contains the raw packet bytes. The handler owns them.
	Data []byte
	// Addr is the source address, usable as a session path.
	Addr net.Addr
}

// Handler is called for each received datagram on the transport's read
// goroutine. It should return quickly.
type Handler func(d *Datagram)

// Transport is a datagram socket with a background read loop.
type Transport interface {
	// Start begins delivering datagrams to the handler.
	Start() error
	// Stop closes the socket and waits for the read loop to exit.
	Stop() error
	// Send writes one datagram to addr.
	Send(data []byte, addr net.Addr) error
	// LocalAddr returns the bound address.
	LocalAddr() net.Addr
}
