// Package message implements the wire format of the session protocol.
//
// The package provides:
//   - Packet type identifiers
//   - Common and transport header encoding/decoding
//   - Per-generation send counters
//   - Sliding-window replay detection for receive counters
package message

// PacketType identifies the kind of packet carried after the common header.
type PacketType uint8

const (
	// PacketTypeInit is the first handshake message (initiator to responder).
	PacketTypeInit PacketType = 0x01

	// PacketTypeResponse is the second handshake message (responder to initiator).
	PacketTypeResponse PacketType = 0x02

	// PacketTypeConfirm is the third handshake message, proving key possession
	// by the initiator.
	PacketTypeConfirm PacketType = 0x03

	// PacketTypeData carries one fragment of an application message.
	PacketTypeData PacketType = 0x10

	// PacketTypeRekeyOffer starts a ratchet step with a fresh ephemeral key.
	PacketTypeRekeyOffer PacketType = 0x11

	// PacketTypeRekeyAck answers a RekeyOffer with the peer's ephemeral key.
	PacketTypeRekeyAck PacketType = 0x12

	// PacketTypeKeyConfirm is sent under the new generation key to let the
	// acknowledging side switch its send key.
	PacketTypeKeyConfirm PacketType = 0x13
)

// String returns a human-readable name for the packet type.
func (p PacketType) String() string {
	switch p {
	case PacketTypeInit:
		return "Init"
	case PacketTypeResponse:
		return "Response"
	case PacketTypeConfirm:
		return "Confirm"
	case PacketTypeData:
		return "Data"
	case PacketTypeRekeyOffer:
		return "RekeyOffer"
	case PacketTypeRekeyAck:
		return "RekeyAck"
	case PacketTypeKeyConfirm:
		return "KeyConfirm"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the packet type is a defined value.
func (p PacketType) IsValid() bool {
	return p.IsHandshake() || p.IsTransport()
}

// IsHandshake returns true for the three handshake packet types.
func (p PacketType) IsHandshake() bool {
	return p >= PacketTypeInit && p <= PacketTypeConfirm
}

// IsTransport returns true for packets that use the transport header and are
// protected by a session key.
func (p PacketType) IsTransport() bool {
	return p >= PacketTypeData && p <= PacketTypeKeyConfirm
}
