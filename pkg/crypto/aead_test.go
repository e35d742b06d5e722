package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestAEADRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, SymmetricKeySize)
	a, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("NewAEAD() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
		ad        []byte
	}{
		{"empty", nil, nil},
		{"no ad", []byte("hello"), nil},
		{"with ad", []byte("hello"), []byte("header")},
		{"large", bytes.Repeat([]byte{0xAB}, 1460), []byte("header")},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			nonce := BuildNonce(uint64(i))
			ct, err := a.Seal(nonce, tc.plaintext, tc.ad)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(ct) != len(tc.plaintext)+TagSize {
				t.Errorf("ciphertext length = %d, want %d", len(ct), len(tc.plaintext)+TagSize)
			}

			pt, err := a.Open(nonce, ct, tc.ad)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(pt, tc.plaintext) {
				t.Errorf("Open() = %x, want %x", pt, tc.plaintext)
			}
		})
	}
}

func TestAEADTamper(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, SymmetricKeySize)
	nonce := BuildNonce(7)
	ad := []byte("ad")
	ct, err := Seal(key, nonce, []byte("payload"), ad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	flip := func(b []byte, i int) []byte {
		c := append([]byte(nil), b...)
		c[i] ^= 0x80
		return c
	}

	tests := []struct {
		name  string
		key   []byte
		nonce []byte
		ct    []byte
		ad    []byte
	}{
		{"ciphertext bit", key, nonce, flip(ct, 0), ad},
		{"tag bit", key, nonce, flip(ct, len(ct)-1), ad},
		{"wrong ad", key, nonce, ct, []byte("xx")},
		{"wrong nonce", key, BuildNonce(8), ct, ad},
		{"wrong key", bytes.Repeat([]byte{0x02}, SymmetricKeySize), nonce, ct, ad},
		{"truncated", key, nonce, ct[:TagSize-1], ad},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.key, tc.nonce, tc.ct, tc.ad)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("Open() error = %v, want %v", err, ErrAuthenticationFailed)
			}
		})
	}
}

func TestAEADInvalidSizes(t *testing.T) {
	if _, err := NewAEAD(make([]byte, 16)); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("NewAEAD(16 bytes) error = %v, want %v", err, ErrInvalidKeySize)
	}

	a, _ := NewAEAD(make([]byte, SymmetricKeySize))
	if _, err := a.Seal(make([]byte, 13), nil, nil); !errors.Is(err, ErrInvalidNonceSize) {
		t.Errorf("Seal(13-byte nonce) error = %v, want %v", err, ErrInvalidNonceSize)
	}
}

func TestBuildNonce(t *testing.T) {
	got := BuildNonce(0x0102030405060708)
	want := []byte{0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(got, want) {
		t.Errorf("BuildNonce() = %x, want %x", got, want)
	}
}

func TestZeroize(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5}
	ZeroizeAll(a, b, nil)
	if !bytes.Equal(a, []byte{0, 0, 0}) || !bytes.Equal(b, []byte{0, 0}) {
		t.Errorf("ZeroizeAll() left %x %x", a, b)
	}
}
