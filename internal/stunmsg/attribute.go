package stunmsg

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Attribute is a single decoded STUN/TURN attribute: its on-wire type code
// and its raw content bytes (unpadded). Value is, on decode, a view into
// the original receive buffer and must be copied before the buffer is
// reused.
//
// Attribute is the closed tagged-variant the codec works with: the set of
// type codes it recognizes is fixed (see const.go), and every semantic
// reader/writer below operates on this one shape rather than a family of
// distinct Go types, so there is no dynamic dispatch in the hot path.
type Attribute struct {
	Type  uint16
	Value []byte
}

// ContentLength is the attribute's actual content length, as recorded in
// the STUN header's body length field (RFC 5389 ยง15: padded on the wire,
// but reported unpadded).
func (a Attribute) ContentLength() uint16 {
	return uint16(len(a.Value))
}

// FramedLength is the number of bytes this attribute occupies on the wire:
// a 4-byte TLV header plus the content rounded up to a 4-byte boundary.
func (a Attribute) FramedLength() uint16 {
	return 4 + pad4(a.ContentLength())
}

func pad4(n uint16) uint16 {
	return (n + 3) &^ 3
}

// parseAttribute validates an attribute's raw content and returns it
// unchanged. String attributes are validated as UTF-8; fixed-size types
// are checked for their exact length; address attributes are only checked
// for the 4-byte minimum and are decoded later by AsAddr (all-zero seed)
// or AsXORAddr.
func parseAttribute(typ uint16, content []byte) (Attribute, error) {
	switch typ {
	case AttrUsername, AttrRealm, AttrNonce, AttrSoftware:
		if !utf8.Valid(content) {
			return Attribute{}, fmt.Errorf("%w: attribute 0x%04x is not valid UTF-8", ErrAttr, typ)
		}
	case AttrMappedAddress, AttrXORMappedAddress, AttrXORPeerAddress, AttrXORRelayedAddress, AttrAlternateServer:
		if len(content) < 4 {
			return Attribute{}, fmt.Errorf("%w: address attribute 0x%04x too short", ErrAttr, typ)
		}
	case AttrLifetime, AttrPriority, AttrReservationToken:
		if len(content) != 4 {
			return Attribute{}, fmt.Errorf("%w: attribute 0x%04x wants 4 bytes, got %d", ErrAttr, typ, len(content))
		}
	case AttrChannelNumber:
		if len(content) != 4 {
			return Attribute{}, fmt.Errorf("%w: CHANNEL-NUMBER wants 4 bytes, got %d", ErrAttr, len(content))
		}
	case AttrICEControlled, AttrICEControlling:
		if len(content) != 8 {
			return Attribute{}, fmt.Errorf("%w: attribute 0x%04x wants 8 bytes, got %d", ErrAttr, typ, len(content))
		}
	case AttrRequestedTransport:
		if len(content) != 4 {
			return Attribute{}, fmt.Errorf("%w: REQUESTED-TRANSPORT wants 4 bytes, got %d", ErrAttr, len(content))
		}
	case AttrEvenPort:
		if len(content) != 1 {
			return Attribute{}, fmt.Errorf("%w: EVEN-PORT wants 1 byte, got %d", ErrAttr, len(content))
		}
	case AttrDontFragment, AttrUseCandidate:
		if len(content) != 0 {
			return Attribute{}, fmt.Errorf("%w: attribute 0x%04x wants 0 bytes, got %d", ErrAttr, typ, len(content))
		}
	case AttrErrorCode:
		if len(content) < 4 {
			return Attribute{}, fmt.Errorf("%w: ERROR-CODE too short", ErrAttr)
		}
	case AttrUnknownAttributes:
		if len(content)%2 != 0 {
			return Attribute{}, fmt.Errorf("%w: UNKNOWN-ATTRIBUTES length not a multiple of 2", ErrAttr)
		}
	}
	return Attribute{Type: typ, Value: content}, nil
}

// String attribute constructors/accessors (USERNAME, REALM, NONCE, SOFTWARE).

func NewString(typ uint16, v string) Attribute { return Attribute{Type: typ, Value: []byte(v)} }

func (a Attribute) AsString() string { return string(a.Value) }

// Uint32 attribute constructors/accessors (LIFETIME, PRIORITY, RESERVATION-TOKEN).

func NewUint32(typ uint16, v uint32) Attribute {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Attribute{Type: typ, Value: buf}
}

func (a Attribute) AsUint32() (uint32, error) {
	if len(a.Value) != 4 {
		return 0, fmt.Errorf("%w: expected 4 bytes, got %d", ErrAttr, len(a.Value))
	}
	return binary.BigEndian.Uint32(a.Value), nil
}

// Uint64 attribute constructors/accessors (ICE-CONTROLLED, ICE-CONTROLLING).

func NewUint64(typ uint16, v uint64) Attribute {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Attribute{Type: typ, Value: buf}
}

func (a Attribute) AsUint64() (uint64, error) {
	if len(a.Value) != 8 {
		return 0, fmt.Errorf("%w: expected 8 bytes, got %d", ErrAttr, len(a.Value))
	}
	return binary.BigEndian.Uint64(a.Value), nil
}

// ChannelNumber is CHANNEL-NUMBER's content: a 16-bit channel number
// followed by 2 reserved bytes. Callers get the 16-bit channel number; the
// reserved bytes are always zero on emit and ignored on read.

func NewChannelNumber(channel uint16) Attribute {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf, channel)
	return Attribute{Type: AttrChannelNumber, Value: buf}
}

func (a Attribute) AsChannelNumber() (uint16, error) {
	if len(a.Value) != 4 {
		return 0, fmt.Errorf("%w: CHANNEL-NUMBER wants 4 bytes", ErrAttr)
	}
	return binary.BigEndian.Uint16(a.Value), nil
}

// REQUESTED-TRANSPORT content is a single protocol byte plus 3 reserved
// bytes (always zero on emit).

func NewRequestedTransport(protocol byte) Attribute {
	return Attribute{Type: AttrRequestedTransport, Value: []byte{protocol, 0, 0, 0}}
}

func (a Attribute) AsRequestedTransport() (byte, error) {
	if len(a.Value) != 4 {
		return 0, fmt.Errorf("%w: REQUESTED-TRANSPORT wants 4 bytes", ErrAttr)
	}
	return a.Value[0], nil
}

// EVEN-PORT is a single byte whose top bit carries the "also reserve the
// next higher port" flag.

func NewEvenPort(v bool) Attribute {
	var b byte
	if v {
		b = 0x80
	}
	return Attribute{Type: AttrEvenPort, Value: []byte{b}}
}

func (a Attribute) AsEvenPort() (bool, error) {
	if len(a.Value) != 1 {
		return false, fmt.Errorf("%w: EVEN-PORT wants 1 byte", ErrAttr)
	}
	return a.Value[0]&0x80 != 0, nil
}

// Marker attributes carry no content (DONT-FRAGMENT, USE-CANDIDATE).

func NewMarker(typ uint16) Attribute { return Attribute{Type: typ} }

// Data attribute (DATA, and the escape hatch OTHER via the same shape).

func NewData(typ uint16, v []byte) Attribute { return Attribute{Type: typ, Value: v} }

// ERROR-CODE: {reserved(21 bits)=0, class(3 bits), number(8 bits), reason}.
// The wire code is split class*100+number; content[0:2] are reserved/zero,
// content[2] is the class, content[3] is the number, the rest is the UTF-8
// reason phrase.

func NewError(code uint16, reason string) Attribute {
	buf := make([]byte, 4+len(reason))
	buf[2] = byte(code / 100)
	buf[3] = byte(code % 100)
	copy(buf[4:], reason)
	return Attribute{Type: AttrErrorCode, Value: buf}
}

// ErrorValue is a decoded ERROR-CODE attribute.
type ErrorValue struct {
	Code   uint16
	Reason string
}

func (a Attribute) AsError() (ErrorValue, error) {
	if len(a.Value) < 4 {
		return ErrorValue{}, fmt.Errorf("%w: ERROR-CODE too short", ErrAttr)
	}
	code := uint16(a.Value[2])*100 + uint16(a.Value[3])
	return ErrorValue{Code: code, Reason: string(a.Value[4:])}, nil
}

// UNKNOWN-ATTRIBUTES is a list of u16 type codes.

func NewUnknownAttributes(types []uint16) Attribute {
	buf := make([]byte, len(types)*2)
	for i, t := range types {
		binary.BigEndian.PutUint16(buf[i*2:], t)
	}
	return Attribute{Type: AttrUnknownAttributes, Value: buf}
}

func (a Attribute) AsUnknownAttributes() ([]uint16, error) {
	if len(a.Value)%2 != 0 {
		return nil, fmt.Errorf("%w: UNKNOWN-ATTRIBUTES length not a multiple of 2", ErrAttr)
	}
	out := make([]uint16, len(a.Value)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(a.Value[i*2:])
	}
	return out, nil
}

// Address attribute accessors. AsAddr is used for MAPPED-ADDRESS (the only
// unmasked address attribute in this set); everything else is XOR-masked
// and decoded with AsXORAddr.

func (a Attribute) AsAddr() (Addr, error) { return DecodeAddr(a.Value) }

func (a Attribute) AsXORAddr(txid TxID) (Addr, error) { return DecodeXORAddr(a.Value, txid) }

// NewAddr builds a plain (unmasked) address attribute.
func NewAddr(typ uint16, addr Addr) (Attribute, error) {
	v, err := EncodeAddr(nil, addr)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{Type: typ, Value: v}, nil
}

// NewXORAddr builds an XOR-masked address attribute.
func NewXORAddr(typ uint16, addr Addr, txid TxID) (Attribute, error) {
	v, err := EncodeXORAddr(nil, addr, txid)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{Type: typ, Value: v}, nil
}
