// Package fragment maps application messages onto MTU-sized transport
// packets and reassembles them on the receiving side.
//
// A message of N bytes becomes ceil(N / MaxPayload(mtu)) fragments (at least
// one, so empty messages are representable). Every fragment is carried by its
// own transport packet with consecutive counters, so the counter of fragment
// 0 identifies the message within a key generation.
package fragment

import (
	"fmt"

	"github.com/backkem/zssp/pkg/message"
)

// MinMTU is the smallest MTU for which fragmentation is defined.
const MinMTU = 128

// MaxPayload returns the number of plaintext bytes that fit in one datagram
// of the given MTU after the transport header and AEAD tag.
func MaxPayload(mtu int) int {
	return mtu - message.TransportOverhead
}

// MaxMessageSize returns the largest message that can be sent at mtu.
func MaxMessageSize(mtu int) int {
	return MaxPayload(mtu) * message.MaxFragments
}

// Count returns the number of fragments needed for a message of size bytes.
func Count(size, mtu int) (int, error) {
	if mtu < MinMTU {
		return 0, fmt.Errorf("%w: %d", ErrInvalidMTU, mtu)
	}
	per := MaxPayload(mtu)
	n := (size + per - 1) / per
	if n == 0 {
		n = 1
	}
	if n > message.MaxFragments {
		return 0, fmt.Errorf("%w: %d bytes needs %d fragments, max %d", ErrDataTooLarge, size, n, message.MaxFragments)
	}
	return n, nil
}

// Split divides data into ordered chunks no larger than MaxPayload(mtu).
// The chunks alias data.
func Split(data []byte, mtu int) ([][]byte, error) {
	n, err := Count(len(data), mtu)
	if err != nil {
		return nil, err
	}

	per := MaxPayload(mtu)
	chunks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * per
		end := start + per
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks, nil
}

// Fragment is one received piece of a message, already authenticated and
// decrypted.
type Fragment struct {
	// Generation is the key generation the fragment arrived under.
	Generation uint32

	// Counter is the packet counter of this fragment.
	Counter uint64

	// Number is the zero-based ordinal of this fragment.
	Number uint8

	// Total is the number of fragments in the message.
	Total uint8

	// Payload is the decrypted fragment bytes.
	Payload []byte
}

// MessageID returns the identifier shared by every fragment of a message:
// the counter of fragment 0.
func (f *Fragment) MessageID() (uint64, error) {
	if uint64(f.Number) > f.Counter {
		return 0, fmt.Errorf("%w: fragment %d at counter %d", message.ErrMalformedPacket, f.Number, f.Counter)
	}
	return f.Counter - uint64(f.Number), nil
}
