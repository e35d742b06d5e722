package session

import (
	"fmt"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/message"
)

// Key derivation labels.
var (
	initiatorToResponderLabel = []byte("zssp i2r")
	responderToInitiatorLabel = []byte("zssp r2i")
	ratchetLabel              = []byte("zssp ratchet")
)

// generation is the key state of one ratchet step.
//
// Both directional keys are expanded from the ratchet key, and the ratchet key
// of generation n+1 is extracted from the ratchet key of generation n and a
// fresh ephemeral DH output. A generation never reuses a counter because its
// send counter only moves forward and the whole generation is discarded
// before the counter can wrap.
type generation struct {
	number      uint32
	ratchetKey  []byte
	fingerprint []byte

	sendKey []byte
	recvKey []byte
	send    *crypto.AEAD
	recv    *crypto.AEAD

	counter *message.SendCounter
	window  *message.ReplayWindow

	startedAt int64
}

// newGeneration derives the directional keys of a generation from its ratchet key.
// The initiator sends with the i2r key and receives with the r2i key.
func newGeneration(number uint32, ratchetKey []byte, role Role, windowSize int, now int64) (*generation, error) {
	i2r, err := crypto.HKDFExpandSHA384(ratchetKey, initiatorToResponderLabel, crypto.SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	r2i, err := crypto.HKDFExpandSHA384(ratchetKey, responderToInitiatorLabel, crypto.SymmetricKeySize)
	if err != nil {
		crypto.Zeroize(i2r)
		return nil, err
	}

	sendKey, recvKey := i2r, r2i
	if role == RoleResponder {
		sendKey, recvKey = r2i, i2r
	}

	send, err := crypto.NewAEAD(sendKey)
	if err != nil {
		crypto.ZeroizeAll(i2r, r2i)
		return nil, err
	}
	recv, err := crypto.NewAEAD(recvKey)
	if err != nil {
		crypto.ZeroizeAll(i2r, r2i)
		return nil, err
	}

	return &generation{
		number:      number,
		ratchetKey:  append([]byte(nil), ratchetKey...),
		fingerprint: crypto.Fingerprint(ratchetKey),
		sendKey:     sendKey,
		recvKey:     recvKey,
		send:        send,
		recv:        recv,
		counter:     message.NewSendCounter(),
		window:      message.NewReplayWindow(windowSize),
		startedAt:   now,
	}, nil
}

// next derives the generation that follows g from the ratchet DH output.
func (g *generation) next(dh []byte, role Role, windowSize int, now int64) (*generation, error) {
	if g.number == ^uint32(0) {
		return nil, fmt.Errorf("%w: generation space exhausted", ErrUsageCeiling)
	}
	rk, err := crypto.HKDFSHA384(dh, g.ratchetKey, ratchetLabel, crypto.SHA384LenBytes)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(rk)
	return newGeneration(g.number+1, rk, role, windowSize, now)
}

// seal encrypts one transport packet. The header is encoded first and used
// as associated data; the ciphertext is appended to it.
func (g *generation) seal(h message.Header, payload []byte) ([]byte, error) {
	buf := make([]byte, message.TransportHeaderSize, message.TransportHeaderSize+len(payload)+crypto.TagSize)
	h.EncodeTo(buf)
	return g.send.SealTo(buf, crypto.BuildNonce(h.Counter), payload, buf[:message.TransportHeaderSize])
}

// open authenticates and decrypts a transport packet. ad is the encoded header.
func (g *generation) open(counter uint64, ad, ciphertext []byte) ([]byte, error) {
	return g.recv.Open(crypto.BuildNonce(counter), ciphertext, ad)
}

// zeroize erases every secret of the generation.
func (g *generation) zeroize() {
	if g == nil {
		return
	}
	crypto.ZeroizeAll(g.ratchetKey, g.sendKey, g.recvKey)
	g.send = nil
	g.recv = nil
}
