package zssp

import (
	"bytes"
	"testing"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/session"
)

// testApp is an Application that knows a fixed set of peers.
type testApp struct {
	identity *crypto.KeyPair
	allow    bool
	peers    map[string]*RemoteIdentity
	resolved int
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	return &testApp{identity: kp, allow: true, peers: make(map[string]*RemoteIdentity)}
}

func (a *testApp) LocalIdentity() *crypto.KeyPair { return a.identity }
func (a *testApp) LocalStaticBlob() []byte        { return a.identity.PublicKeyBytes() }
func (a *testApp) AllowIncomingSession() bool     { return a.allow }

func (a *testApp) ResolveIdentity(blob []byte) (*RemoteIdentity, bool) {
	a.resolved++
	r, ok := a.peers[string(blob)]
	return r, ok
}

// trust makes a accept sessions from b.
func (a *testApp) trust(b *testApp, appData any) {
	a.peers[string(b.LocalStaticBlob())] = &RemoteIdentity{
		PublicKey: b.identity.PublicKey(),
		AppData:   appData,
	}
}

// testNode is one Context plus its inbox and what it delivered.
type testNode struct {
	name  string
	app   *testApp
	ctx   *Context
	inbox [][]byte

	data        [][]byte
	newSessions []ReceiveResult
	errs        []error

	established []*session.Session
	closed      []error
	ratchets    []uint64
}

// testNet connects two Contexts through in-memory queues.
type testNet struct {
	a, b *testNode
	now  int64
	// drop, when set, decides whether a datagram from one node is lost.
	drop func(from *testNode, datagram []byte) bool
}

func newTestNode(t *testing.T, name string, app *testApp, config Config) *testNode {
	t.Helper()
	n := &testNode{name: name, app: app}
	config.OnSessionEstablished = func(s *session.Session) { n.established = append(n.established, s) }
	config.OnSessionClosed = func(_ *session.Session, reason error) { n.closed = append(n.closed, reason) }
	config.OnRatchet = func(_ *session.Session, g uint64) { n.ratchets = append(n.ratchets, g) }
	ctx, err := NewContext(app, config)
	if err != nil {
		t.Fatalf("NewContext(%s) error = %v", name, err)
	}
	n.ctx = ctx
	return n
}

// newTestNet creates nodes "a" and "b" that trust each other.
func newTestNet(t *testing.T, config Config) *testNet {
	t.Helper()
	aApp, bApp := newTestApp(t), newTestApp(t)
	aApp.trust(bApp, "b")
	bApp.trust(aApp, "a")
	return &testNet{
		a: newTestNode(t, "a", aApp, config),
		b: newTestNode(t, "b", bApp, config),
	}
}

func (n *testNet) peer(node *testNode) *testNode {
	if node == n.a {
		return n.b
	}
	return n.a
}

// sendFrom returns the SendFunc of node.
func (n *testNet) sendFrom(node *testNode) SendFunc {
	return func(_ Path, d []byte) {
		if n.drop != nil && n.drop(node, d) {
			return
		}
		to := n.peer(node)
		to.inbox = append(to.inbox, append([]byte(nil), d...))
	}
}

// deliver feeds queued datagrams to both nodes until the queues settle.
func (n *testNet) deliver(t *testing.T) {
	t.Helper()
	for rounds := 0; len(n.a.inbox)+len(n.b.inbox) > 0; rounds++ {
		if rounds > 1000 {
			t.Fatal("deliver did not settle")
		}
		for _, node := range []*testNode{n.a, n.b} {
			pkts := node.inbox
			node.inbox = nil
			for _, p := range pkts {
				n.receive(node, p)
			}
		}
	}
}

func (n *testNet) receive(node *testNode, datagram []byte) (ReceiveResult, error) {
	res, err := node.ctx.Receive(n.sendFrom(node), n.peer(node).name, datagram, n.now)
	if err != nil {
		node.errs = append(node.errs, err)
		return res, err
	}
	switch res.Kind {
	case ResultOkData:
		node.data = append(node.data, res.Data)
	case ResultOkNewSession:
		node.newSessions = append(node.newSessions, res)
		if res.Data != nil {
			node.data = append(node.data, res.Data)
		}
	}
	return res, nil
}

// service runs Service on both nodes.
func (n *testNet) service() {
	n.a.ctx.Service(n.sendFrom(n.a), n.now)
	n.b.ctx.Service(n.sendFrom(n.b), n.now)
}

// connect opens a session from a to b and completes the handshake.
func (n *testNet) connect(t *testing.T) (initiator, responder *session.Session) {
	t.Helper()
	s, err := n.a.ctx.Open(n.sendFrom(n.a), "b", RemoteIdentity{PublicKey: n.b.app.identity.PublicKey()}, n.now)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	n.deliver(t)
	if !s.Established() {
		t.Fatalf("initiator not established, errors a=%v b=%v", n.a.errs, n.b.errs)
	}
	if len(n.b.newSessions) != 1 {
		t.Fatalf("responder reported %d new sessions, want 1", len(n.b.newSessions))
	}
	return s, n.b.newSessions[0].Session
}

// assertConverged checks that both sessions report identical key info.
func assertConverged(t *testing.T, a, b *session.Session, generation uint64) {
	t.Helper()
	ag, afp, aok := a.KeyInfo()
	bg, bfp, bok := b.KeyInfo()
	if !aok || !bok {
		t.Fatal("KeyInfo() not available")
	}
	if ag != generation || bg != generation {
		t.Fatalf("generations = %d / %d, want %d", ag, bg, generation)
	}
	if !bytes.Equal(afp, bfp) {
		t.Fatalf("fingerprints differ: %x vs %x", afp, bfp)
	}
}

// testConfig disables time-based rekeying so tests control ratchets.
func testConfig() Config {
	p := session.DefaultParams()
	p.RekeyAfterTimeMs = 1 << 40
	p.RekeyAfterTimeMaxJitterMs = -1
	return Config{Params: p}
}
