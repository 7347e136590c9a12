package stunmsg

import (
	"net"
	"testing"
)

func testTxID(fill byte) TxID {
	var t TxID
	for i := range t {
		t[i] = fill + byte(i)
	}
	return t
}

func TestMessage_RoundTrip_Binding(t *testing.T) {
	t.Parallel()

	txid := testTxID(1)
	addr := Addr{IP: net.IPv4(203, 0, 113, 5), Port: 54321}

	xmapped, err := NewXORAddr(AttrXORMappedAddress, addr, txid)
	if err != nil {
		t.Fatalf("NewXORAddr: %v", err)
	}

	msg := &Message{
		Class:  ClassSuccess,
		Method: MethodBinding,
		TxID:   txid,
		Attrs:  []Attribute{xmapped, NewMarker(AttrFingerprint)},
	}

	buf := make([]byte, 512)
	n, err := msg.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Class != ClassSuccess || decoded.Method != MethodBinding {
		t.Errorf("class/method: got %v/%v, want success/binding", decoded.Class, decoded.Method)
	}
	if decoded.TxID != txid {
		t.Errorf("txid mismatch")
	}

	v := decoded.View()
	if v.XMapped == nil {
		t.Fatalf("expected XMAPPED in flattened view")
	}
	got, err := v.XMapped.AsXORAddr(decoded.TxID)
	if err != nil {
		t.Fatalf("AsXORAddr: %v", err)
	}
	if got.Port != addr.Port || !got.IP.Equal(addr.IP) {
		t.Errorf("xmapped addr: got %v:%d, want %v:%d", got.IP, got.Port, addr.IP, addr.Port)
	}
}

func TestMessage_BodyLengthIsMultipleOf4(t *testing.T) {
	t.Parallel()

	txid := testTxID(2)
	msg := &Message{
		Class:  ClassRequest,
		Method: MethodAllocate,
		TxID:   txid,
		Attrs:  []Attribute{NewString(AttrUsername, "abc")}, // content len 3, pads to 4
	}
	buf := make([]byte, 64)
	n, err := msg.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	bodyLen := int(buf[2])<<8 | int(buf[3])
	if bodyLen%4 != 0 {
		t.Errorf("body length %d is not a multiple of 4", bodyLen)
	}
	if HeaderSize+bodyLen != n {
		t.Errorf("header+body length %d does not match bytes written %d", HeaderSize+bodyLen, n)
	}
}

func TestMessage_Integrity_VerifiesAgainstCorrectKeyOnly(t *testing.T) {
	t.Parallel()

	txid := testTxID(3)
	key := DeriveKey("a.b.tok", "realm", "the/turn/password/constant")
	wrongKey := DeriveKey("a.b.tok", "realm", "wrong-password")

	msg := &Message{
		Class:        ClassRequest,
		Method:       MethodAllocate,
		TxID:         txid,
		Attrs:        []Attribute{NewString(AttrUsername, "a.b.tok"), NewMarker(AttrMessageIntegrity)},
		IntegrityKey: key,
	}
	buf := make([]byte, 128)
	n, err := msg.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	lookupCorrect := func(username, realm string) ([]byte, bool) { return key, true }
	if _, _, ok := decoded.CheckAuth(lookupCorrect); !ok {
		t.Errorf("CheckAuth should succeed with the correct key")
	}

	lookupWrong := func(username, realm string) ([]byte, bool) { return wrongKey, true }
	if _, _, ok := decoded.CheckAuth(lookupWrong); ok {
		t.Errorf("CheckAuth should fail with the wrong key")
	}
}

func TestMessage_Fingerprint_DetectsTampering(t *testing.T) {
	t.Parallel()

	txid := testTxID(4)
	msg := &Message{
		Class:  ClassRequest,
		Method: MethodBinding,
		TxID:   txid,
		Attrs:  []Attribute{NewMarker(AttrFingerprint)},
	}
	buf := make([]byte, 64)
	n, err := msg.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var fpAttr *Attribute
	for i := range decoded.Attrs {
		if decoded.Attrs[i].Type == AttrFingerprint {
			fpAttr = &decoded.Attrs[i]
		}
	}
	if fpAttr == nil {
		t.Fatalf("expected a FINGERPRINT attribute in the decoded message")
	}
	fp, err := fpAttr.AsUint32()
	if err != nil {
		t.Fatalf("%v", err)
	}

	var header [20]byte
	copy(header[:], buf[0:20])
	prefix := buf[HeaderSize : n-8]
	want := computeFingerprint(header, prefix)
	if fp != want {
		t.Errorf("fingerprint mismatch: got 0x%08x, want 0x%08x", fp, want)
	}

	tampered := append([]byte(nil), buf[:n]...)
	tampered[10] ^= 0xFF // flip a header byte inside the txid (leaves framing valid)
	var header2 [20]byte
	copy(header2[:], tampered[0:20])
	if computeFingerprint(header2, tampered[HeaderSize:n-8]) == fp {
		t.Errorf("flipping a header byte should change the fingerprint")
	}
}

func TestMessage_DuplicateAttributesSuppressed(t *testing.T) {
	t.Parallel()

	txid := testTxID(5)
	// Hand-build a message with USERNAME appearing twice.
	msg := &Message{Class: ClassRequest, Method: MethodAllocate, TxID: txid,
		Attrs: []Attribute{NewString(AttrUsername, "first"), NewString(AttrUsername, "second")}}
	buf := make([]byte, 64)
	n, err := msg.Encode(buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Attrs) != 1 {
		t.Fatalf("expected duplicate USERNAME to be suppressed, got %d attrs", len(decoded.Attrs))
	}
	if got := decoded.Attrs[0].AsString(); got != "first" {
		t.Errorf("expected first occurrence to win, got %q", got)
	}
}

func TestMessage_DecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		buf  []byte
	}{
		{"too small", make([]byte, 10)},
		{"bad magic", func() []byte {
			b := make([]byte, 20)
			b[4] = 0x00
			return b
		}()},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.buf); err == nil {
				t.Errorf("expected a decode error")
			}
		})
	}
}

func TestMessage_DecodeRejectsUnalignedLength(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 21)
	buf[2] = 0
	buf[3] = 1 // body length 1, not a multiple of 4
	buf[4], buf[5], buf[6], buf[7] = 0x21, 0x12, 0xA4, 0x42
	if _, err := Decode(buf); err == nil {
		t.Errorf("expected ErrUnalignedLength")
	}
}

func TestPackType_RoundTrip(t *testing.T) {
	t.Parallel()

	classes := []Class{ClassRequest, ClassIndication, ClassSuccess, ClassError}
	methods := []Method{MethodBinding, MethodAllocate, MethodRefresh, MethodSend, MethodData,
		MethodCreatePermission, MethodChannelBind}

	for _, c := range classes {
		for _, m := range methods {
			typ := packType(c, m)
			if typ >= 0x4000 {
				t.Errorf("packed type 0x%04x exceeds 14 bits", typ)
			}
			gotC, gotM := unpackType(typ)
			if gotC != c || gotM != m {
				t.Errorf("packType(%v,%v)=0x%04x unpacked to %v/%v", c, m, typ, gotC, gotM)
			}
		}
	}
}
