package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// P-384 constants.
const (
	// P384PrivateKeySizeBytes is the size of a P-384 private scalar.
	P384PrivateKeySizeBytes = 48

	// P384PublicKeySizeBytes is the uncompressed public key size.
	// Format: 0x04 || X (48 bytes) || Y (48 bytes) = 97 bytes
	P384PublicKeySizeBytes = 97

	// ECDHSecretSizeBytes is the size of a raw P-384 ECDH shared secret.
	ECDHSecretSizeBytes = 48
)

// PublicKey is a parsed P-384 public key.
type PublicKey struct {
	key *ecdh.PublicKey
}

// ParsePublicKey parses an uncompressed P-384 public key.
// Returns ErrInvalidKeyEncoding if the bytes are not a valid curve point.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	if len(b) != P384PublicKeySizeBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyEncoding, len(b), P384PublicKeySizeBytes)
	}
	key, err := ecdh.P384().NewPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}
	return &PublicKey{key: key}, nil
}

// Bytes returns the uncompressed encoding of the key (97 bytes).
func (p *PublicKey) Bytes() []byte {
	return p.key.Bytes()
}

// Equal reports whether two public keys are the same point.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.key.Equal(other.key)
}

// KeyPair is a P-384 key pair. It is used both for long-term identities and
// for the ephemeral keys of a handshake or ratchet step.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair generates a new random P-384 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-384 key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// KeyPairFromPrivateKey reconstructs a key pair from a 48-byte private scalar.
func KeyPairFromPrivateKey(b []byte) (*KeyPair, error) {
	if len(b) != P384PrivateKeySizeBytes {
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d", ErrInvalidKeyEncoding, len(b), P384PrivateKeySizeBytes)
	}
	priv, err := ecdh.P384().NewPrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}
	return &KeyPair{private: priv}, nil
}

// PublicKey returns the public half of the key pair.
func (kp *KeyPair) PublicKey() *PublicKey {
	return &PublicKey{key: kp.private.PublicKey()}
}

// PublicKeyBytes returns the uncompressed public key (97 bytes).
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.private.PublicKey().Bytes()
}

// PrivateKeyBytes returns the private scalar (48 bytes).
func (kp *KeyPair) PrivateKeyBytes() []byte {
	return kp.private.Bytes()
}

// ECDH computes the raw shared secret with a peer public key.
func (kp *KeyPair) ECDH(peer *PublicKey) ([]byte, error) {
	if peer == nil {
		return nil, ErrInvalidKeyEncoding
	}
	secret, err := kp.private.ECDH(peer.key)
	if err != nil {
		return nil, fmt.Errorf("ecdh failed: %w", err)
	}
	return secret, nil
}

// ECDHBytes parses peer public key bytes and computes the shared secret.
func (kp *KeyPair) ECDHBytes(peer []byte) ([]byte, error) {
	pub, err := ParsePublicKey(peer)
	if err != nil {
		return nil, err
	}
	return kp.ECDH(pub)
}
