// Package crypto provides the cryptographic primitives used by the session
// protocol: P-384 identity and ephemeral keys, ECDH, HKDF-SHA384, HMAC-SHA384
// and the ChaCha20-Poly1305 AEAD used for every encrypted packet.
package crypto

import (
	"crypto/sha512"
	"hash"
)

// SHA-384 constants.
const (
	// SHA384LenBits is the SHA-384 output length in bits.
	SHA384LenBits = 384

	// SHA384LenBytes is the SHA-384 output length in bytes.
	SHA384LenBytes = 48
)

// SHA384 computes the SHA-384 hash of a message.
func SHA384(message []byte) [SHA384LenBytes]byte {
	return sha512.Sum384(message)
}

// SHA384Slice computes the SHA-384 hash of the concatenation of parts and
// returns it as a slice.
func SHA384Slice(parts ...[]byte) []byte {
	h := sha512.New384()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// NewSHA384 returns a new hash.Hash for computing SHA-384 digests incrementally.
func NewSHA384() hash.Hash {
	return sha512.New384()
}
