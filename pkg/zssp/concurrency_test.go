package zssp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/backkem/zssp/pkg/message"
	"github.com/backkem/zssp/pkg/session"
)

// wireRecorder is a SendFunc sink that is safe for concurrent use. It keeps
// the counters of transport packets in emission order and forwards every
// datagram to out.
type wireRecorder struct {
	mu       sync.Mutex
	counters map[uint32][]uint64
	out      chan []byte
}

func newWireRecorder(buffer int) *wireRecorder {
	return &wireRecorder{counters: make(map[uint32][]uint64), out: make(chan []byte, buffer)}
}

func (r *wireRecorder) send(_ Path, d []byte) {
	if h, _, err := message.Parse(d); err == nil && h.Type.IsTransport() {
		r.mu.Lock()
		r.counters[h.Generation] = append(r.counters[h.Generation], h.Counter)
		r.mu.Unlock()
	}
	r.out <- append([]byte(nil), d...)
}

// checkCounters fails unless the counters of every generation were put on
// the wire strictly increasing, and so never repeat.
func (r *wireRecorder) checkCounters(t *testing.T) int {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for g, cs := range r.counters {
		for i := 1; i < len(cs); i++ {
			if cs[i] <= cs[i-1] {
				t.Fatalf("generation %d: counter %d emitted after %d", g, cs[i], cs[i-1])
			}
		}
		total += len(cs)
	}
	return total
}

func TestContext_ConcurrentTraffic(t *testing.T) {
	const (
		senders  = 4
		messages = 200
	)
	n := newTestNet(t, testConfig())
	sa, sb := n.connect(t)

	toB := newWireRecorder(4 * senders * messages)
	toA := newWireRecorder(4 * senders * messages)

	// Each side drains its inbox on its own goroutine while the other side
	// sends from several goroutines and services its Context.
	var received [2]atomic.Int64
	var recvErrs [2]atomic.Int64
	var receivers sync.WaitGroup
	drain := func(side int, ctx *Context, reply SendFunc, in <-chan []byte) {
		defer receivers.Done()
		for d := range in {
			res, err := ctx.Receive(reply, "peer", d, 1)
			if err != nil {
				recvErrs[side].Add(1)
				continue
			}
			if res.Kind == ResultOkData {
				received[side].Add(1)
			}
		}
	}
	receivers.Add(2)
	go drain(0, n.a.ctx, toB.send, toA.out)
	go drain(1, n.b.ctx, toA.send, toB.out)

	stop := make(chan struct{})
	var servicers sync.WaitGroup
	for _, pair := range []struct {
		ctx  *Context
		send SendFunc
	}{{n.a.ctx, toB.send}, {n.b.ctx, toA.send}} {
		servicers.Add(1)
		go func(ctx *Context, send SendFunc) {
			defer servicers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					ctx.Service(send, 1)
				}
			}
		}(pair.ctx, pair.send)
	}

	var senderWG sync.WaitGroup
	sendErrs := make(chan error, 2*senders)
	for i := 0; i < senders; i++ {
		for _, dir := range []struct {
			s    *session.Session
			send SendFunc
		}{{sa, toB.send}, {sb, toA.send}} {
			senderWG.Add(1)
			go func(id int, s *session.Session, send SendFunc) {
				defer senderWG.Done()
				for m := 0; m < messages; m++ {
					if err := s.Send(send, []byte(fmt.Sprintf("%d/%d", id, m))); err != nil {
						sendErrs <- err
						return
					}
				}
			}(i, dir.s, dir.send)
		}
	}
	senderWG.Wait()
	close(stop)
	servicers.Wait()
	close(toA.out)
	close(toB.out)
	receivers.Wait()
	close(sendErrs)

	for err := range sendErrs {
		t.Errorf("Send() error = %v", err)
	}
	if got := toB.checkCounters(t); got != senders*messages {
		t.Errorf("a emitted %d transport packets, want %d", got, senders*messages)
	}
	if got := toA.checkCounters(t); got != senders*messages {
		t.Errorf("b emitted %d transport packets, want %d", got, senders*messages)
	}
	for side, name := range []string{"a", "b"} {
		if got := received[side].Load(); got != senders*messages {
			t.Errorf("%s received %d messages, want %d (%d dropped)", name, got, senders*messages, recvErrs[side].Load())
		}
	}
}

func TestContext_ConcurrentOpenAndService(t *testing.T) {
	const opens = 64
	app, peer := newTestApp(t), newTestApp(t)
	config := testConfig()
	config.MaxSessions = opens
	config.MaxIncomingNegotiations = opens

	var closed atomic.Int64
	config.OnSessionClosed = func(*session.Session, error) { closed.Add(1) }
	ctx, err := NewContext(app, config)
	if err != nil {
		t.Fatal(err)
	}

	var inits atomic.Int64
	send := func(Path, []byte) { inits.Add(1) }

	// Well past any negotiation timeout measured from time zero.
	const now = 10 * session.DefaultOutgoingNegotiationTimeoutMs

	stop := make(chan struct{})
	serviced := make(chan struct{})
	go func() {
		defer close(serviced)
		for {
			select {
			case <-stop:
				return
			default:
				ctx.Service(send, now)
			}
		}
	}()

	var wg sync.WaitGroup
	opened := make(chan *session.Session, opens)
	for i := 0; i < opens; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := ctx.Open(send, "peer", RemoteIdentity{PublicKey: peer.identity.PublicKey()}, now)
			if err != nil {
				t.Errorf("Open() error = %v", err)
				return
			}
			opened <- s
		}()
	}
	wg.Wait()
	close(stop)
	<-serviced
	close(opened)

	for s := range opened {
		if s.State() != session.StateNegotiating {
			t.Errorf("session %#x State() = %s, want Negotiating", s.LocalID(), s.State())
		}
		if ctx.Session(s.LocalID()) != s {
			t.Errorf("session %#x missing from the table", s.LocalID())
		}
	}
	if c := closed.Load(); c != 0 {
		t.Errorf("%d sessions closed while opening", c)
	}
	if got := len(ctx.Sessions()); got != opens {
		t.Errorf("Sessions() = %d, want %d", got, opens)
	}
	if inits.Load() < opens {
		t.Errorf("sent %d datagrams, want at least %d Inits", inits.Load(), opens)
	}
}
