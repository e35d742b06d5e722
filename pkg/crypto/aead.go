package crypto

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD wraps ChaCha20-Poly1305 with the error semantics used by the protocol.
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD creates an AEAD for a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

// Seal encrypts and authenticates plaintext, authenticating ad as well.
// The 16-byte tag is appended to the returned ciphertext.
func (a *AEAD) Seal(nonce, plaintext, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	return a.aead.Seal(nil, nonce, plaintext, ad), nil
}

// SealTo is like Seal but appends to dst, which must not overlap plaintext.
func (a *AEAD) SealTo(dst, nonce, plaintext, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	return a.aead.Seal(dst, nonce, plaintext, ad), nil
}

// Open authenticates and decrypts ciphertext (which includes the tag).
// Returns ErrAuthenticationFailed if the tag does not verify.
func (a *AEAD) Open(nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < TagSize {
		return nil, ErrAuthenticationFailed
	}
	out, err := a.aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return out, nil
}

// Seal is a one-shot helper that encrypts under key without keeping a cipher.
func Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	a, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return a.Seal(nonce, plaintext, ad)
}

// Open is a one-shot helper that decrypts under key without keeping a cipher.
func Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	a, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return a.Open(nonce, ciphertext, ad)
}
