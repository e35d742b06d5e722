// Package handshake implements the three-message mutual authentication and
// key agreement that establishes a session.
//
// The exchange follows the Noise IK pattern over P-384, extended with an
// explicit confirmation message so that the responder only reports a new
// session once the initiator has proven possession of its static key:
//
//	Init:     -> e, es, {s, metadata}, ss, psk
//	Response: <- e, ee, se, {}
//	Confirm:  -> {}
//
// Both sides hold a transcript hash h and chaining key ck. Session key
// material is derived from ck after ee and se have been mixed in, so a later
// compromise of either static key does not expose session traffic.
//
// For initiator:
//  1. Create with NewInitiator()
//  2. Call Start() to get the Init datagram
//  3. Call HandleResponse() to verify the Response and get the Confirm datagram
//  4. Call Keys() to get the derived key material
//
// For responder:
//  1. Call ReadInit() to decrypt an Init datagram and learn the peer's identity blob
//  2. Resolve the identity, then call Accept() to get the Response datagram
//  3. Call HandleConfirm() to verify the Confirm datagram
//  4. Call Keys() to get the derived key material
package handshake

import (
	"encoding/binary"

	"github.com/backkem/zssp/pkg/crypto"
	"github.com/backkem/zssp/pkg/message"
)

// ProtocolName seeds the transcript hash and chaining key.
const ProtocolName = "ZSSP_P384_ChaChaPoly_SHA384"

// Size constants.
const (
	// RatchetKeySize is the size of the generation 0 ratchet key.
	RatchetKeySize = crypto.SHA384LenBytes

	// blobLenSize is the length prefix of the static blob in the Init payload.
	blobLenSize = 2

	// MaxStaticBlobSize bounds the identity blob carried in Init.
	MaxStaticBlobSize = 1024

	// initFixedSize is initiator session ID + ephemeral public key.
	initFixedSize = message.SessionIDSize + crypto.P384PublicKeySizeBytes

	// ResponseSize is the full size of a Response datagram.
	ResponseSize = message.CommonHeaderSize + message.SessionIDSize + crypto.P384PublicKeySizeBytes + crypto.TagSize

	// ConfirmSize is the full size of a Confirm datagram.
	ConfirmSize = message.CommonHeaderSize + crypto.TagSize
)

// Key derivation labels.
var (
	confirmLabel = []byte("zssp confirm")
	ratchetLabel = []byte("zssp ratchet 0")
)

// Keys is the output of a completed handshake.
type Keys struct {
	// RatchetKey is the generation 0 ratchet key from which both directional
	// transport keys and all later generations are derived.
	RatchetKey []byte

	// Transcript is the final transcript hash. Equal on both sides.
	Transcript []byte
}

// Zeroize erases the key material.
func (k *Keys) Zeroize() {
	if k == nil {
		return
	}
	crypto.ZeroizeAll(k.RatchetKey, k.Transcript)
}

// Timing controls retransmission and the negotiation deadline.
type Timing struct {
	// RetryIntervalMs is the delay between retransmissions of the last sent
	// handshake message.
	RetryIntervalMs int64

	// TimeoutMs is the total time allowed for the negotiation.
	TimeoutMs int64
}

// symmetricState is the running transcript hash and chaining key.
type symmetricState struct {
	ck []byte
	h  []byte
	k  []byte
}

func newSymmetricState() *symmetricState {
	h := crypto.SHA384Slice([]byte(ProtocolName))
	ck := append([]byte(nil), h...)
	return &symmetricState{ck: ck, h: h}
}

func (s *symmetricState) clone() *symmetricState {
	return &symmetricState{
		ck: append([]byte(nil), s.ck...),
		h:  append([]byte(nil), s.h...),
		k:  append([]byte(nil), s.k...),
	}
}

func (s *symmetricState) mixHash(data ...[]byte) {
	parts := make([][]byte, 0, len(data)+1)
	parts = append(parts, s.h)
	parts = append(parts, data...)
	s.h = crypto.SHA384Slice(parts...)
}

func (s *symmetricState) mixKey(inputKey []byte) error {
	ck, k, err := crypto.MixKey(s.ck, inputKey)
	if err != nil {
		return err
	}
	crypto.ZeroizeAll(s.ck, s.k)
	s.ck, s.k = ck, k
	return nil
}

// mixDH mixes the ECDH output of priv and pub into the chaining key.
func (s *symmetricState) mixDH(priv *crypto.KeyPair, pub *crypto.PublicKey) error {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return err
	}
	defer crypto.Zeroize(secret)
	return s.mixKey(secret)
}

// encryptAndHash encrypts under the current key with the transcript as
// associated data, then mixes the ciphertext into the transcript. Every
// handshake key is used for exactly one encryption, so the nonce is fixed.
func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	c, err := crypto.Seal(s.k, crypto.BuildNonce(0), plaintext, s.h)
	if err != nil {
		return nil, err
	}
	s.mixHash(c)
	return c, nil
}

func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	p, err := crypto.Open(s.k, crypto.BuildNonce(0), ciphertext, s.h)
	if err != nil {
		return nil, err
	}
	s.mixHash(ciphertext)
	return p, nil
}

// confirmTag computes the tag carried by the Confirm message.
func (s *symmetricState) confirmTag(header []byte) ([]byte, error) {
	key, err := crypto.HKDFExpandSHA384(s.ck, confirmLabel, crypto.SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(key)
	return crypto.Seal(key, crypto.BuildNonce(0), nil, append(append([]byte(nil), s.h...), header...))
}

// split derives the final key material.
func (s *symmetricState) split() (*Keys, error) {
	rk, err := crypto.HKDFExpandSHA384(s.ck, ratchetLabel, RatchetKeySize)
	if err != nil {
		return nil, err
	}
	return &Keys{
		RatchetKey: rk,
		Transcript: append([]byte(nil), s.h...),
	}, nil
}

func (s *symmetricState) zeroize() {
	crypto.ZeroizeAll(s.ck, s.k, s.h)
}

func encodeSessionID(id uint64) []byte {
	var b [message.SessionIDSize]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func encodeHeader(t message.PacketType, sessionID uint64) []byte {
	h := message.Header{
		Version:   message.ProtocolVersion,
		Type:      t,
		SessionID: sessionID,
	}
	return h.Encode()
}

// encodeInitPayload builds the encrypted part of Init:
// BlobLength (2 bytes BE) || Blob || Metadata.
func encodeInitPayload(blob, metadata []byte) []byte {
	out := make([]byte, blobLenSize, blobLenSize+len(blob)+len(metadata))
	binary.BigEndian.PutUint16(out, uint16(len(blob)))
	out = append(out, blob...)
	return append(out, metadata...)
}

func decodeInitPayload(p []byte) (blob, metadata []byte, err error) {
	if len(p) < blobLenSize {
		return nil, nil, errMalformed("init payload too short")
	}
	n := int(binary.BigEndian.Uint16(p))
	if n == 0 || n > MaxStaticBlobSize || len(p) < blobLenSize+n {
		return nil, nil, errMalformed("init payload blob length %d", n)
	}
	blob = append([]byte(nil), p[blobLenSize:blobLenSize+n]...)
	metadata = append([]byte(nil), p[blobLenSize+n:]...)
	return blob, metadata, nil
}
