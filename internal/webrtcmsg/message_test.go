package webrtcmsg

import (
	"net"
	"testing"

	"github.com/kuuji/turnrelay/internal/stunmsg"
)

func txid(fill byte) stunmsg.TxID {
	var t stunmsg.TxID
	for i := range t {
		t[i] = fill + byte(i)
	}
	return t
}

func TestDecode_IceReq_ControllingWithUseCandidate(t *testing.T) {
	t.Parallel()

	id := txid(1)
	key := []byte("ice-password")
	msg := &stunmsg.Message{
		Class: stunmsg.ClassRequest, Method: stunmsg.MethodBinding, TxID: id,
		Attrs: []stunmsg.Attribute{
			stunmsg.NewString(stunmsg.AttrUsername, "ufrag:pwd"),
			stunmsg.NewUint64(stunmsg.AttrICEControlling, 0xDEADBEEF),
			stunmsg.NewMarker(stunmsg.AttrUseCandidate),
			stunmsg.NewUint32(stunmsg.AttrPriority, 12345),
			stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
			stunmsg.NewMarker(stunmsg.AttrFingerprint),
		},
		IntegrityKey: key,
	}
	buf := make([]byte, 256)
	n, err := msg.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, ok := Decode(buf[:n], key)
	if !ok {
		t.Fatalf("expected a decoded IceReq")
	}
	if got.Kind != KindIceReq {
		t.Fatalf("kind: got %v, want KindIceReq", got.Kind)
	}
	if got.Username != "ufrag:pwd" {
		t.Errorf("username: got %q", got.Username)
	}
	if got.Priority != 12345 {
		t.Errorf("priority: got %d, want 12345", got.Priority)
	}
	if !got.IsControlling {
		t.Errorf("expected IsControlling true")
	}
	if !got.UseCandidate {
		t.Errorf("expected UseCandidate true")
	}
	if got.TieBreaker != 0xDEADBEEF {
		t.Errorf("tie breaker: got 0x%x, want 0xDEADBEEF", got.TieBreaker)
	}
	if !got.IntegrityKeyOK {
		t.Errorf("expected integrity to verify against the correct key")
	}

	if _, ok := Decode(buf[:n], []byte("wrong-password")); !ok {
		t.Fatalf("decode itself should still succeed with a different key")
	}
	got2, _ := Decode(buf[:n], []byte("wrong-password"))
	if got2.IntegrityKeyOK {
		t.Errorf("expected integrity verification to fail against the wrong key")
	}
}

func TestDecode_IceRes(t *testing.T) {
	t.Parallel()

	id := txid(2)
	key := []byte("ice-password")
	addr := stunmsg.Addr{IP: net.IPv4(192, 0, 2, 9), Port: 5000}
	xmapped, err := stunmsg.NewXORAddr(stunmsg.AttrXORMappedAddress, addr, id)
	if err != nil {
		t.Fatalf("NewXORAddr: %v", err)
	}
	msg := &stunmsg.Message{
		Class: stunmsg.ClassSuccess, Method: stunmsg.MethodBinding, TxID: id,
		Attrs:        []stunmsg.Attribute{xmapped, stunmsg.NewMarker(stunmsg.AttrMessageIntegrity), stunmsg.NewMarker(stunmsg.AttrFingerprint)},
		IntegrityKey: key,
	}
	buf := make([]byte, 128)
	n, err := msg.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, ok := Decode(buf[:n], key)
	if !ok || got.Kind != KindIceRes {
		t.Fatalf("expected KindIceRes, got %v (ok=%v)", got.Kind, ok)
	}
	if got.XMapped.Port != 5000 {
		t.Errorf("port: got %d, want 5000", got.XMapped.Port)
	}
}

func TestDecode_DtlsAndRtpByFirstByte(t *testing.T) {
	t.Parallel()

	dtls, ok := Decode([]byte{22, 1, 2, 3}, nil)
	if !ok || dtls.Kind != KindDtls {
		t.Fatalf("expected KindDtls")
	}

	rtp, ok := Decode([]byte{128, 1, 2, 3}, nil)
	if !ok || rtp.Kind != KindRtp {
		t.Fatalf("expected KindRtp")
	}

	if _, ok := Decode([]byte{10, 1, 2, 3}, nil); ok {
		t.Errorf("first byte 10 falls in neither range and should be rejected")
	}
}

func TestEncode_IceReq_RoundTrip(t *testing.T) {
	t.Parallel()

	id := txid(3)
	key := []byte("static-ice-pwd")
	m := Message{
		Kind: KindIceReq, TxID: id, Username: "P.ufrag:P.pwd",
		Priority: 1, TieBreaker: 99, IsControlling: false, UseCandidate: false,
	}
	buf := make([]byte, 256)
	n, err := m.Encode(buf, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, ok := Decode(buf[:n], key)
	if !ok || got.Kind != KindIceReq {
		t.Fatalf("round trip decode failed")
	}
	if got.Username != "P.ufrag:P.pwd" {
		t.Errorf("username: got %q", got.Username)
	}
	if got.IsControlling {
		t.Errorf("expected controlled (ICE-CONTROLLED), not controlling")
	}
	if !got.IntegrityKeyOK {
		t.Errorf("expected re-encoded message to verify against the rewritten key")
	}
}
