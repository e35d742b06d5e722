package zssp

import (
	"github.com/backkem/zssp/pkg/crypto"
)

// Application supplies the local identity and the policy decisions of the
// embedding program. Methods may be called from any goroutine that calls
// into the Context and must not block.
type Application interface {
	// LocalIdentity returns the long-lived P-384 key pair of this node.
	LocalIdentity() *crypto.KeyPair

	// LocalStaticBlob returns the opaque blob sent (encrypted) to responders
	// so they can resolve this node's identity. Usually the encoded public key.
	LocalStaticBlob() []byte

	// ResolveIdentity maps an initiator's static blob to its identity.
	// Returning false rejects the negotiation and no state is kept.
	ResolveIdentity(blob []byte) (*RemoteIdentity, bool)

	// AllowIncomingSession is consulted before any work is done on an Init
	// packet. Returning false drops it, e.g. under load.
	AllowIncomingSession() bool
}

// RemoteIdentity describes a peer.
type RemoteIdentity struct {
	// PublicKey is the peer's static key. Required.
	PublicKey *crypto.PublicKey

	// PreSharedKey is mixed into the key schedule when non-empty. Both sides
	// must use the same value.
	PreSharedKey []byte

	// Metadata is sent encrypted inside Init (initiator only) and is
	// available to the responder through Session.Metadata.
	Metadata []byte

	// AppData is local application state attached to the session. It is
	// never sent.
	AppData any
}

// Metrics observes Context activity. pkg/metrics provides a Prometheus
// implementation. All methods must be safe for concurrent use.
type Metrics interface {
	SessionOpened(role string)
	SessionEstablished(role string)
	SessionClosed(reason string)
	Ratchet()
	DatagramSent(bytes int)
	DatagramReceived(bytes int)
	PacketDropped(reason string)
	IncomingRejected()
	ActiveSessions(n int)
}

// nopMetrics discards all observations.
type nopMetrics struct{}

func (nopMetrics) SessionOpened(string)      {}
func (nopMetrics) SessionEstablished(string) {}
func (nopMetrics) SessionClosed(string)      {}
func (nopMetrics) Ratchet()                  {}
func (nopMetrics) DatagramSent(int)          {}
func (nopMetrics) DatagramReceived(int)      {}
func (nopMetrics) PacketDropped(string)      {}
func (nopMetrics) IncomingRejected()         {}
func (nopMetrics) ActiveSessions(int)        {}
