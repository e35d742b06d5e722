package crypto

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA384 derives key material using HKDF-SHA384 (RFC 5869).
//
// Parameters:
//   - inputKey: Input keying material (IKM)
//   - salt: Optional salt value (can be nil or empty)
//   - info: Optional context/application-specific info (can be nil or empty)
//   - length: Number of bytes to derive
//
// Returns the derived key material of the specified length.
func HKDFSHA384(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha512.New384, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// HKDFExtractSHA384 performs only the HKDF-Extract operation.
// Returns a 48-byte pseudorandom key.
func HKDFExtractSHA384(inputKey, salt []byte) []byte {
	return hkdf.Extract(sha512.New384, inputKey, salt)
}

// HKDFExpandSHA384 performs only the HKDF-Expand operation.
func HKDFExpandSHA384(prk, info []byte, length int) ([]byte, error) {
	reader := hkdf.Expand(sha512.New384, prk, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// MixKey advances a chaining key with new input keying material, returning
// the next chaining key and a symmetric key bound to everything mixed so far.
// This is the Noise-style two-output HKDF used by the handshake and ratchet.
func MixKey(chainingKey, inputKey []byte) (nextChainingKey, key []byte, err error) {
	prk := HKDFExtractSHA384(inputKey, chainingKey)
	defer Zeroize(prk)

	out, err := HKDFExpandSHA384(prk, nil, SHA384LenBytes+SymmetricKeySize)
	if err != nil {
		return nil, nil, err
	}
	nextChainingKey = out[:SHA384LenBytes:SHA384LenBytes]
	key = out[SHA384LenBytes:]
	return nextChainingKey, key, nil
}
