package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	pub := kp.PublicKeyBytes()
	if len(pub) != P384PublicKeySizeBytes {
		t.Errorf("public key length = %d, want %d", len(pub), P384PublicKeySizeBytes)
	}
	if pub[0] != 0x04 {
		t.Errorf("public key prefix = %#x, want 0x04", pub[0])
	}
	if len(kp.PrivateKeyBytes()) != P384PrivateKeySizeBytes {
		t.Errorf("private key length = %d, want %d", len(kp.PrivateKeyBytes()), P384PrivateKeySizeBytes)
	}

	restored, err := KeyPairFromPrivateKey(kp.PrivateKeyBytes())
	if err != nil {
		t.Fatalf("KeyPairFromPrivateKey() error = %v", err)
	}
	if !bytes.Equal(restored.PublicKeyBytes(), pub) {
		t.Error("restored key pair has a different public key")
	}
}

func TestECDHAgreement(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	s1, err := alice.ECDH(bob.PublicKey())
	if err != nil {
		t.Fatalf("alice.ECDH() error = %v", err)
	}
	s2, err := bob.ECDHBytes(alice.PublicKeyBytes())
	if err != nil {
		t.Fatalf("bob.ECDHBytes() error = %v", err)
	}

	if !bytes.Equal(s1, s2) {
		t.Error("shared secrets differ")
	}
	if len(s1) != ECDHSecretSizeBytes {
		t.Errorf("shared secret length = %d, want %d", len(s1), ECDHSecretSizeBytes)
	}
}

func TestParsePublicKey(t *testing.T) {
	kp, _ := GenerateKeyPair()
	valid := kp.PublicKeyBytes()

	offCurve := append([]byte(nil), valid...)
	offCurve[len(offCurve)-1] ^= 0x01

	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{"valid", valid, false},
		{"empty", nil, true},
		{"truncated", valid[:50], true},
		{"compressed prefix", append([]byte{0x02}, valid[1:49]...), true},
		{"off curve", offCurve, true},
		{"bad prefix", append([]byte{0x05}, valid[1:]...), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub, err := ParsePublicKey(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidKeyEncoding) {
					t.Errorf("ParsePublicKey() error = %v, want %v", err, ErrInvalidKeyEncoding)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePublicKey() error = %v", err)
			}
			if !pub.Equal(kp.PublicKey()) {
				t.Error("parsed key does not equal original")
			}
		})
	}
}

func TestKeyPairFromPrivateKeyInvalid(t *testing.T) {
	if _, err := KeyPairFromPrivateKey(make([]byte, 10)); !errors.Is(err, ErrInvalidKeyEncoding) {
		t.Errorf("short key error = %v, want %v", err, ErrInvalidKeyEncoding)
	}
	if _, err := KeyPairFromPrivateKey(make([]byte, P384PrivateKeySizeBytes)); !errors.Is(err, ErrInvalidKeyEncoding) {
		t.Errorf("zero key error = %v, want %v", err, ErrInvalidKeyEncoding)
	}
}
