package message

import (
	"encoding/binary"
	"fmt"
)

// Wire format constants.
const (
	// ProtocolVersion is the only supported protocol version.
	ProtocolVersion uint8 = 1

	// SessionIDSize is the encoded size of a session ID.
	SessionIDSize = 8

	// CommonHeaderSize is Version (1) + Type (1) + Session ID (8).
	CommonHeaderSize = 2 + SessionIDSize

	// TransportHeaderSize is the common header plus
	// Generation (4) + Counter (8) + Fragment No (1) + Fragment Count (1).
	TransportHeaderSize = CommonHeaderSize + 4 + 8 + 1 + 1

	// TagSize is the AEAD tag appended to every transport packet.
	TagSize = 16

	// TransportOverhead is the per-datagram overhead of a transport packet.
	TransportOverhead = TransportHeaderSize + TagSize

	// MaxFragments is the largest fragment count a header can express.
	MaxFragments = 255

	// HandshakeSessionID marks an Init packet, which precedes session ID
	// assignment on the responder.
	HandshakeSessionID uint64 = 0

	// MaxSessionID is the largest session ID handed out by a session table.
	// IDs are 48-bit so they stay well inside the 64-bit field.
	MaxSessionID uint64 = 1<<48 - 1
)

// Header is the decoded packet header. All multi-byte fields are big-endian
// on the wire.
//
// Handshake packets carry only the common part (Version, Type, SessionID).
// Transport packets additionally carry Generation, Counter and the fragment
// fields, and the whole encoded header is authenticated as AEAD associated
// data.
type Header struct {
	// Version is the protocol version byte.
	Version uint8

	// Type is the packet type.
	Type PacketType

	// SessionID is the receiver's session ID, or HandshakeSessionID for Init.
	SessionID uint64

	// Generation is the ratchet generation of the key protecting the packet.
	Generation uint32

	// Counter is the per-generation packet counter, also the AEAD nonce.
	Counter uint64

	// FragmentNo is the zero-based ordinal of this fragment.
	FragmentNo uint8

	// FragmentCount is the total number of fragments in the message (>= 1).
	FragmentCount uint8
}

// Size returns the encoded size of the header in bytes.
func (h *Header) Size() int {
	if h.Type.IsTransport() {
		return TransportHeaderSize
	}
	return CommonHeaderSize
}

// Encode serializes the header to bytes.
// The returned slice can be used directly as AAD for encryption.
func (h *Header) Encode() []byte {
	buf := make([]byte, h.Size())
	h.EncodeTo(buf)
	return buf
}

// EncodeTo serializes the header into buf, which must be at least Size()
// bytes long. Returns the number of bytes written.
func (h *Header) EncodeTo(buf []byte) int {
	buf[0] = h.Version
	buf[1] = uint8(h.Type)
	binary.BigEndian.PutUint64(buf[2:10], h.SessionID)
	if !h.Type.IsTransport() {
		return CommonHeaderSize
	}
	binary.BigEndian.PutUint32(buf[10:14], h.Generation)
	binary.BigEndian.PutUint64(buf[14:22], h.Counter)
	buf[22] = h.FragmentNo
	buf[23] = h.FragmentCount
	return TransportHeaderSize
}

// Decode parses a header from data and returns the number of bytes consumed.
//
// The version byte is checked first so that a packet from an unsupported
// protocol version is always reported as ErrUnknownProtocolVersion, however
// the rest of it is laid out.
func (h *Header) Decode(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: empty packet", ErrMalformedPacket)
	}
	if data[0] != ProtocolVersion {
		return 0, fmt.Errorf("%w: %d", ErrUnknownProtocolVersion, data[0])
	}
	if len(data) < CommonHeaderSize {
		return 0, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedPacket, len(data), CommonHeaderSize)
	}

	h.Version = data[0]
	h.Type = PacketType(data[1])
	h.SessionID = binary.BigEndian.Uint64(data[2:10])
	h.Generation = 0
	h.Counter = 0
	h.FragmentNo = 0
	h.FragmentCount = 0

	if !h.Type.IsValid() {
		return 0, fmt.Errorf("%w: unknown packet type %#x", ErrMalformedPacket, data[1])
	}
	if !h.Type.IsTransport() {
		if err := h.Validate(); err != nil {
			return 0, err
		}
		return CommonHeaderSize, nil
	}

	if len(data) < TransportHeaderSize {
		return 0, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedPacket, len(data), TransportHeaderSize)
	}
	h.Generation = binary.BigEndian.Uint32(data[10:14])
	h.Counter = binary.BigEndian.Uint64(data[14:22])
	h.FragmentNo = data[22]
	h.FragmentCount = data[23]

	if err := h.Validate(); err != nil {
		return 0, err
	}
	return TransportHeaderSize, nil
}

// Validate checks header field consistency.
func (h *Header) Validate() error {
	if h.Version != ProtocolVersion {
		return fmt.Errorf("%w: %d", ErrUnknownProtocolVersion, h.Version)
	}
	if !h.Type.IsValid() {
		return fmt.Errorf("%w: unknown packet type %#x", ErrMalformedPacket, uint8(h.Type))
	}
	if h.Type == PacketTypeInit && h.SessionID != HandshakeSessionID {
		return fmt.Errorf("%w: init packet with session ID %d", ErrMalformedPacket, h.SessionID)
	}
	if h.Type != PacketTypeInit && h.SessionID == HandshakeSessionID {
		return fmt.Errorf("%w: %s packet without session ID", ErrMalformedPacket, h.Type)
	}
	if h.Type.IsTransport() {
		if h.FragmentCount == 0 || h.FragmentNo >= h.FragmentCount {
			return fmt.Errorf("%w: fragment %d of %d", ErrMalformedPacket, h.FragmentNo, h.FragmentCount)
		}
	}
	return nil
}

// Parse decodes the header of a datagram and returns it with the remaining
// body. For transport packets the body is the ciphertext including the tag,
// and the call fails if the body is too short to hold one.
func Parse(datagram []byte) (Header, []byte, error) {
	var h Header
	n, err := h.Decode(datagram)
	if err != nil {
		return Header{}, nil, err
	}
	body := datagram[n:]
	if h.Type.IsTransport() && len(body) < TagSize {
		return Header{}, nil, fmt.Errorf("%w: transport body %d bytes, need at least %d", ErrMalformedPacket, len(body), TagSize)
	}
	return h, body, nil
}
