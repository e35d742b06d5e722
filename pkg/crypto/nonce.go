package crypto

import "encoding/binary"

// AEAD sizing constants.
const (
	// NonceSize is the ChaCha20-Poly1305 nonce length.
	NonceSize = 12

	// SymmetricKeySize is the symmetric key length for all derived keys.
	SymmetricKeySize = 32

	// TagSize is the AEAD authentication tag length.
	TagSize = 16
)

// BuildNonce constructs the 12-byte AEAD nonce for a packet counter.
//
// Format: 0x00000000 (4 bytes) || Counter (8 bytes BE)
//
// Each key generation has its own key, so the counter alone keeps
// (key, nonce) pairs unique as long as counters are never reused.
func BuildNonce(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}
