package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderEncode(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		want   []byte
	}{
		{
			name: "init",
			header: Header{
				Version: ProtocolVersion,
				Type:    PacketTypeInit,
			},
			want: []byte{0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "response",
			header: Header{
				Version:   ProtocolVersion,
				Type:      PacketTypeResponse,
				SessionID: 0x0000_1122_3344_5566,
			},
			want: []byte{0x01, 0x02, 0x00, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
		},
		{
			name: "data",
			header: Header{
				Version:       ProtocolVersion,
				Type:          PacketTypeData,
				SessionID:     7,
				Generation:    2,
				Counter:       0x0102030405060708,
				FragmentNo:    3,
				FragmentCount: 10,
			},
			want: []byte{
				0x01, 0x10, 0, 0, 0, 0, 0, 0, 0, 7,
				0, 0, 0, 2,
				1, 2, 3, 4, 5, 6, 7, 8,
				3, 10,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.header.Encode()
			if !bytes.Equal(got, tc.want) {
				t.Errorf("Encode() = %x, want %x", got, tc.want)
			}
			if len(got) != tc.header.Size() {
				t.Errorf("len(Encode()) = %d, Size() = %d", len(got), tc.header.Size())
			}

			var decoded Header
			n, err := decoded.Decode(got)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(got) {
				t.Errorf("Decode() consumed %d, want %d", n, len(got))
			}
			if decoded != tc.header {
				t.Errorf("Decode() = %+v, want %+v", decoded, tc.header)
			}
		})
	}
}

func TestHeaderSizes(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"common header", CommonHeaderSize, 10},
		{"transport header", TransportHeaderSize, 24},
		{"transport overhead", TransportOverhead, 40},
		{"encoded handshake header", (&Header{Type: PacketTypeConfirm}).Size(), CommonHeaderSize},
		{"encoded transport header", len((&Header{Version: ProtocolVersion, Type: PacketTypeData, FragmentCount: 1}).Encode()), TransportHeaderSize},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
			}
		})
	}
	if MaxSessionID >= 1<<48 || HandshakeSessionID != 0 {
		t.Errorf("session ID range = %d..%d", HandshakeSessionID, MaxSessionID)
	}
}

func TestHeaderDecodeErrors(t *testing.T) {
	data := (&Header{
		Version:       ProtocolVersion,
		Type:          PacketTypeData,
		SessionID:     9,
		FragmentCount: 1,
	}).Encode()

	mutate := func(i int, v byte) []byte {
		c := append([]byte(nil), data...)
		c[i] = v
		return c
	}

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", nil, ErrMalformedPacket},
		{"version 0", mutate(0, 0x00), ErrUnknownProtocolVersion},
		{"version 2", mutate(0, 0x02), ErrUnknownProtocolVersion},
		{"unknown version short packet", []byte{0x7F}, ErrUnknownProtocolVersion},
		{"short common header", data[:5], ErrMalformedPacket},
		{"short transport header", data[:20], ErrMalformedPacket},
		{"unknown type", mutate(1, 0x55), ErrMalformedPacket},
		{"zero fragment count", mutate(23, 0), ErrMalformedPacket},
		{"fragment no past count", mutate(22, 1), ErrMalformedPacket},
		{"data without session ID", append([]byte{0x01, 0x10}, make([]byte, 22)...), ErrMalformedPacket},
		{"init with session ID", []byte{0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 1}, ErrMalformedPacket},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var h Header
			_, err := h.Decode(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParse(t *testing.T) {
	h := Header{
		Version:       ProtocolVersion,
		Type:          PacketTypeData,
		SessionID:     1,
		FragmentCount: 1,
	}
	body := bytes.Repeat([]byte{0xEE}, TagSize+4)
	datagram := append(h.Encode(), body...)

	got, rest, err := Parse(datagram)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != h {
		t.Errorf("Parse() header = %+v, want %+v", got, h)
	}
	if !bytes.Equal(rest, body) {
		t.Errorf("Parse() body = %x, want %x", rest, body)
	}

	if _, _, err := Parse(append(h.Encode(), 1, 2, 3)); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Parse() short body error = %v, want %v", err, ErrMalformedPacket)
	}
}

func TestPacketTypeString(t *testing.T) {
	tests := []struct {
		p    PacketType
		want string
	}{
		{PacketTypeInit, "Init"},
		{PacketTypeConfirm, "Confirm"},
		{PacketTypeData, "Data"},
		{PacketTypeKeyConfirm, "KeyConfirm"},
		{PacketType(0x99), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.p.String(); got != tc.want {
			t.Errorf("%#x.String() = %q, want %q", uint8(tc.p), got, tc.want)
		}
	}
}
