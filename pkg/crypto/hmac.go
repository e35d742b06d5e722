package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
)

// fingerprintLabel domain-separates key fingerprints from other HMAC uses.
var fingerprintLabel = []byte("zssp fingerprint")

// HMACSHA384 computes the HMAC-SHA384 of a message using the given key.
//
// Returns a 48-byte MAC.
func HMACSHA384(key, message []byte) []byte {
	h := hmac.New(sha512.New384, key)
	h.Write(message)
	return h.Sum(nil)
}

// HMACEqual compares two MACs for equality in constant time.
func HMACEqual(mac1, mac2 []byte) bool {
	return hmac.Equal(mac1, mac2)
}

// Fingerprint returns a short public identifier for a secret key.
// Both ends of a session compute the same fingerprint for the same ratchet
// key, so it can be compared out of band without revealing the key.
func Fingerprint(key []byte) []byte {
	return HMACSHA384(key, fingerprintLabel)[:FingerprintSize]
}

// FingerprintSize is the length of a key fingerprint in bytes.
const FingerprintSize = 16
