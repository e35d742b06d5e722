package crypto

import "errors"

// Crypto package errors.
var (
	// ErrInvalidKeyEncoding is returned when public or private key bytes
	// are not a valid P-384 encoding.
	ErrInvalidKeyEncoding = errors.New("crypto: invalid key encoding")

	// ErrAuthenticationFailed is returned when an AEAD tag does not verify.
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")

	// ErrInvalidKeySize is returned when a symmetric key has the wrong length.
	ErrInvalidKeySize = errors.New("crypto: invalid key size, must be 32 bytes")

	// ErrInvalidNonceSize is returned when an AEAD nonce has the wrong length.
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size, must be 12 bytes")
)
