package stunmsg

import (
	"net"
	"testing"
)

func TestXORAddr_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip   net.IP
		port int
	}{
		{"ipv4", net.IPv4(192, 168, 1, 42), 54321},
		{"ipv6", net.ParseIP("2001:db8::1"), 3478},
	}

	var txid TxID
	for i := range txid {
		txid[i] = byte(i + 1)
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := EncodeXORAddr(nil, Addr{IP: tt.ip, Port: tt.port}, txid)
			if err != nil {
				t.Fatalf("EncodeXORAddr: %v", err)
			}
			got, err := DecodeXORAddr(encoded, txid)
			if err != nil {
				t.Fatalf("DecodeXORAddr: %v", err)
			}
			if got.Port != tt.port {
				t.Errorf("port: got %d, want %d", got.Port, tt.port)
			}
			if !got.IP.Equal(tt.ip) {
				t.Errorf("ip: got %v, want %v", got.IP, tt.ip)
			}
		})
	}
}

func TestXORAddr_WrongSeedFailsToMatch(t *testing.T) {
	t.Parallel()

	var txid TxID
	var other TxID
	other[0] = 0xFF

	encoded, err := EncodeXORAddr(nil, Addr{IP: net.IPv4(10, 0, 0, 1), Port: 1234}, txid)
	if err != nil {
		t.Fatalf("EncodeXORAddr: %v", err)
	}
	got, err := DecodeXORAddr(encoded, other)
	if err != nil {
		t.Fatalf("DecodeXORAddr: %v", err)
	}
	if got.Port == 1234 && got.IP.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("decoding with the wrong seed should not recover the original address")
	}
}

func TestDecodeAddr_UnknownFamily(t *testing.T) {
	t.Parallel()

	buf := []byte{0x00, 0x09, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04}
	if _, err := DecodeAddr(buf); err == nil {
		t.Errorf("expected an error for an unknown family byte")
	}
}

func TestDecodeAddr_LengthMismatch(t *testing.T) {
	t.Parallel()

	buf := []byte{0x00, FamilyIPv4, 0x00, 0x00, 0x01, 0x02} // 2 octets, want 4
	if _, err := DecodeAddr(buf); err == nil {
		t.Errorf("expected a length error for a truncated IPv4 address")
	}
}
