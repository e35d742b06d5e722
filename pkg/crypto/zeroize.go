package crypto

import "crypto/subtle"

// Zeroize overwrites b with zeros.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// ZeroizeAll overwrites every slice with zeros.
func ZeroizeAll(bs ...[]byte) {
	for _, b := range bs {
		Zeroize(b)
	}
}
