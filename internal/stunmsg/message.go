package stunmsg

import (
	"encoding/binary"
	"fmt"
)

// Message is a decoded (or to-be-encoded) STUN/TURN message: the 20-byte
// header fields plus an ordered attribute list.
//
// A Message produced by Decode borrows its Attrs' Value slices from the
// buffer passed to Decode; it must not be retained past that buffer's
// lifetime. Copy any field you need to keep (Attribute.AsString, for
// example, returns a copy).
type Message struct {
	Class  Class
	Method Method
	TxID   TxID
	Attrs  []Attribute

	// IntegrityKey, when non-nil, is the key Encode uses to compute the
	// content of any AttrMessageIntegrity placeholder in Attrs.
	IntegrityKey []byte

	// raw and integrityOffset are set by Decode to support CheckAuth
	// without re-serializing the message.
	raw             []byte
	integrityOffset int // absolute offset of the INTEGRITY TLV header in raw, -1 if absent
	view            *View
}

// Decode parses buf into a Message. It does not verify MESSAGE-INTEGRITY
// or FINGERPRINT; use CheckAuth for that. Attrs borrow from buf.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < HeaderSize {
		return nil, ErrPacketTooSmall
	}
	typ := binary.BigEndian.Uint16(buf[0:2])
	if typ&0xC000 != 0 {
		return nil, ErrTypeOutOfRange
	}
	bodyLen := binary.BigEndian.Uint16(buf[2:4])
	if bodyLen%4 != 0 {
		return nil, ErrUnalignedLength
	}
	magic := binary.BigEndian.Uint32(buf[4:8])
	if magic != MagicCookie {
		return nil, ErrBadMagic
	}
	if len(buf) < HeaderSize+int(bodyLen) {
		return nil, ErrPacketTooSmall
	}

	class, method := unpackType(typ)

	m := &Message{
		Class:           class,
		Method:          method,
		raw:             buf,
		integrityOffset: -1,
	}
	copy(m.TxID[:], buf[8:20])

	seen := make(map[uint16]bool, 8)
	sawIntegrity := false
	off := uint16(0)
	for off < bodyLen {
		if bodyLen-off < 4 {
			return nil, fmt.Errorf("%w: truncated attribute header", ErrAttr)
		}
		base := HeaderSize + int(off)
		atyp := binary.BigEndian.Uint16(buf[base : base+2])
		alen := binary.BigEndian.Uint16(buf[base+2 : base+4])
		framed := 4 + pad4(alen)
		if off+framed > bodyLen {
			return nil, fmt.Errorf("%w: attribute overruns body", ErrAttr)
		}
		content := buf[base+4 : base+4+int(alen)]
		attrOffset := base
		off += framed

		if seen[atyp] {
			continue
		}
		if sawIntegrity && atyp != AttrFingerprint {
			continue
		}

		attr, err := parseAttribute(atyp, content)
		if err != nil {
			return nil, err
		}
		seen[atyp] = true
		m.Attrs = append(m.Attrs, attr)

		switch atyp {
		case AttrMessageIntegrity:
			sawIntegrity = true
			m.integrityOffset = attrOffset
		case AttrFingerprint:
			// Nothing after FINGERPRINT is retained.
			return m, nil
		}
	}
	return m, nil
}

// KeyLookup resolves a long-term credential key for username (and,
// optionally, realm). It returns ok=false if no key is known.
type KeyLookup func(username, realm string) (key []byte, ok bool)

// CheckAuth verifies the message's MESSAGE-INTEGRITY attribute against a
// key obtained from lookup, using USERNAME (and REALM, if present) from
// the flattened view. It returns the username and key on success.
//
// CheckAuth is shaped for the long-term credential mechanism, where
// USERNAME is always present. For short-term credentials (ICE, where
// STUN responses carry no USERNAME) use VerifyIntegrity directly with a
// key the caller already knows.
func (m *Message) CheckAuth(lookup KeyLookup) (username string, key []byte, ok bool) {
	v := m.View()
	if v.Username == nil || v.Integrity == nil {
		return "", nil, false
	}
	username = v.Username.AsString()
	realm := ""
	if v.Realm != nil {
		realm = v.Realm.AsString()
	}
	key, found := lookup(username, realm)
	if !found {
		return "", nil, false
	}
	if !m.VerifyIntegrity(key) {
		return "", nil, false
	}
	return username, key, true
}

// VerifyIntegrity checks the message's MESSAGE-INTEGRITY attribute against
// key, without any USERNAME/REALM lookup. It reuses the buffer Decode was
// given rather than re-serializing the message.
func (m *Message) VerifyIntegrity(key []byte) bool {
	v := m.View()
	if v.Integrity == nil || m.integrityOffset < 0 {
		return false
	}
	var header [20]byte
	copy(header[:], m.raw[0:20])
	attrsPrefix := m.raw[HeaderSize:m.integrityOffset]
	return verifyIntegrity(header, attrsPrefix, key, v.Integrity.Value)
}

// View is a cached projection of a Message's attributes into named
// optional fields, so higher layers can avoid a linear scan per lookup.
type View struct {
	XMapped             *Attribute
	XPeer               *Attribute
	XRelayed            *Attribute
	Username            *Attribute
	Realm               *Attribute
	Nonce               *Attribute
	Integrity           *Attribute
	Lifetime            *Attribute
	Channel             *Attribute
	Data                *Attribute
	Priority            *Attribute
	ICEControlling      *Attribute
	ICEControlled       *Attribute
	UseCandidate        *Attribute
	RequestedTransport  *Attribute
	Error               *Attribute
}

// View returns the cached flattened view of the message, building it on
// first use.
func (m *Message) View() *View {
	if m.view != nil {
		return m.view
	}
	v := &View{}
	for i := range m.Attrs {
		a := &m.Attrs[i]
		switch a.Type {
		case AttrXORMappedAddress:
			v.XMapped = a
		case AttrXORPeerAddress:
			v.XPeer = a
		case AttrXORRelayedAddress:
			v.XRelayed = a
		case AttrUsername:
			v.Username = a
		case AttrRealm:
			v.Realm = a
		case AttrNonce:
			v.Nonce = a
		case AttrMessageIntegrity:
			v.Integrity = a
		case AttrLifetime:
			v.Lifetime = a
		case AttrChannelNumber:
			v.Channel = a
		case AttrData:
			v.Data = a
		case AttrPriority:
			v.Priority = a
		case AttrICEControlling:
			v.ICEControlling = a
		case AttrICEControlled:
			v.ICEControlled = a
		case AttrUseCandidate:
			v.UseCandidate = a
		case AttrRequestedTransport:
			v.RequestedTransport = a
		case AttrErrorCode:
			v.Error = a
		}
	}
	m.view = v
	return v
}

// Encode writes the message into dst, starting at offset 0, and returns
// the number of bytes written. AttrMessageIntegrity and AttrFingerprint
// placeholders in Attrs (use NewMarker to create them) have their content
// computed here, streaming over the bytes already written to dst — no
// attribute needs a back-reference to the rest of the message.
//
// Encode fails if dst is not large enough to hold the encoded message.
func (m *Message) Encode(dst []byte) (int, error) {
	if len(dst) < HeaderSize {
		return 0, fmt.Errorf("stunmsg: destination buffer too small for header")
	}
	typ := packType(m.Class, m.Method)
	binary.BigEndian.PutUint16(dst[0:2], typ)
	binary.BigEndian.PutUint32(dst[4:8], MagicCookie)
	copy(dst[8:20], m.TxID[:])

	var header [20]byte
	copy(header[:], dst[0:20])

	n := HeaderSize
	for _, a := range m.Attrs {
		switch a.Type {
		case AttrMessageIntegrity:
			mac := computeIntegrity(header, dst[HeaderSize:n], m.IntegrityKey)
			a = Attribute{Type: AttrMessageIntegrity, Value: mac[:]}
		case AttrFingerprint:
			fp := computeFingerprint(header, dst[HeaderSize:n])
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], fp)
			a = Attribute{Type: AttrFingerprint, Value: buf[:]}
		}

		framed := int(a.FramedLength())
		if n+framed > len(dst) {
			return 0, fmt.Errorf("stunmsg: destination buffer too small for attributes")
		}
		binary.BigEndian.PutUint16(dst[n:n+2], a.Type)
		binary.BigEndian.PutUint16(dst[n+2:n+4], a.ContentLength())
		copy(dst[n+4:], a.Value)
		for i := n + 4 + len(a.Value); i < n+framed; i++ {
			dst[i] = 0
		}
		n += framed
	}

	total := uint16(n - HeaderSize)
	binary.BigEndian.PutUint16(dst[2:4], total)
	return n, nil
}
