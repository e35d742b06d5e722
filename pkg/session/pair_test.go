package session

import (
	"testing"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/handshake"
)

// fixedRandom returns a fixed value for deterministic jitter.
type fixedRandom float64

func (f fixedRandom) Float64() float64 {
	return float64(f)
}

const (
	testInitiatorID uint64 = 0x111111
	testResponderID uint64 = 0x222222
)

// testLink connects an initiator and a responder session through two
// in-memory queues.
type testLink struct {
	init *Session
	resp *Session

	toInit [][]byte
	toResp [][]byte

	response []byte
	confirm  []byte

	established int
	ratchets    [2][]uint64
	closed      [2][]error
	dropped     [2]int
}

func (l *testLink) sendToInit(_ Path, d []byte) {
	l.toInit = append(l.toInit, append([]byte(nil), d...))
}

func (l *testLink) sendToResp(_ Path, d []byte) {
	l.toResp = append(l.toResp, append([]byte(nil), d...))
}

func (l *testLink) hooks(side int) Hooks {
	return Hooks{
		OnEstablished:    func(*Session) { l.established++ },
		OnRatchet:        func(_ *Session, g uint64) { l.ratchets[side] = append(l.ratchets[side], g) },
		OnClosed:         func(_ *Session, reason error) { l.closed[side] = append(l.closed[side], reason) },
		OnMessageDropped: func(*Session) { l.dropped[side]++ },
	}
}

// newTestLink runs a full handshake at time 0 and returns the established pair.
func newTestLink(t *testing.T, params Params, random RandomSource) *testLink {
	t.Helper()
	l := newUnconfirmedLink(t, params, random)
	ok, err := l.resp.HandleConfirm("init", l.confirm, 0)
	if err != nil || !ok {
		t.Fatalf("HandleConfirm() = %v, %v; want true, nil", ok, err)
	}
	return l
}

// newUnconfirmedLink runs the handshake up to the initiator's Confirm, which
// is held back in l.confirm. The responder is still negotiating.
func newUnconfirmedLink(t *testing.T, params Params, random RandomSource) *testLink {
	t.Helper()

	ikp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	rkp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	l := &testLink{}
	init, err := NewInitiator(handshake.InitiatorConfig{
		LocalStatic:    ikp,
		LocalBlob:      ikp.PublicKeyBytes(),
		RemoteStatic:   rkp.PublicKey(),
		Metadata:       []byte("hello responder"),
		LocalSessionID: testInitiatorID,
	}, Config{Params: params, Random: random, Hooks: l.hooks(0), Path: "resp"}, 0)
	if err != nil {
		t.Fatalf("NewInitiator() error = %v", err)
	}
	l.init = init

	if err := init.Start(l.sendToResp, 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	initMsg := l.takeResp(t)

	hs, err := handshake.ReadInit(rkp, initMsg, handshake.Timing{RetryIntervalMs: 500, TimeoutMs: 2000})
	if err != nil {
		t.Fatalf("ReadInit() error = %v", err)
	}
	if _, err := hs.Accept(ikp.PublicKey(), nil, testResponderID, 0); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	resp, err := NewResponder(hs, Config{Params: params, Random: random, Hooks: l.hooks(1), Path: "init"}, 0)
	if err != nil {
		t.Fatalf("NewResponder() error = %v", err)
	}
	l.resp = resp

	if err := resp.Start(l.sendToInit, 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	l.response = l.takeInit(t)

	if err := init.HandleResponse(l.sendToResp, "resp", l.response, 0); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}
	l.confirm = l.takeResp(t)
	return l
}

func (l *testLink) takeResp(t *testing.T) []byte {
	t.Helper()
	if len(l.toResp) != 1 {
		t.Fatalf("queue to responder has %d packets, want 1", len(l.toResp))
	}
	p := l.toResp[0]
	l.toResp = nil
	return p
}

func (l *testLink) takeInit(t *testing.T) []byte {
	t.Helper()
	if len(l.toInit) != 1 {
		t.Fatalf("queue to initiator has %d packets, want 1", len(l.toInit))
	}
	p := l.toInit[0]
	l.toInit = nil
	return p
}

// pump delivers queued transport packets in both directions until both
// queues are empty, and returns the messages delivered on each side.
func (l *testLink) pump(t *testing.T, now int64) (atInit, atResp [][]byte) {
	t.Helper()
	for rounds := 0; len(l.toInit)+len(l.toResp) > 0; rounds++ {
		if rounds > 100 {
			t.Fatal("pump did not settle")
		}
		pkts := l.toResp
		l.toResp = nil
		for _, p := range pkts {
			data, err := l.resp.HandleTransport(l.sendToInit, "init", p, now)
			if err != nil {
				t.Fatalf("responder HandleTransport() error = %v", err)
			}
			if data != nil {
				atResp = append(atResp, data)
			}
		}

		pkts = l.toInit
		l.toInit = nil
		for _, p := range pkts {
			data, err := l.init.HandleTransport(l.sendToResp, "resp", p, now)
			if err != nil {
				t.Fatalf("initiator HandleTransport() error = %v", err)
			}
			if data != nil {
				atInit = append(atInit, data)
			}
		}
	}
	return atInit, atResp
}

// testParams returns params with time-based rekeying pushed out of the way.
func testParams() Params {
	p := DefaultParams()
	p.RekeyAfterTimeMs = 1 << 40
	p.RekeyAfterTimeMaxJitterMs = -1
	return p
}
