// Package stunmsg implements a hand-rolled STUN/TURN message codec: the
// 20-byte header, the TLV attribute stream, XOR-mapped addresses, and the
// FINGERPRINT/MESSAGE-INTEGRITY trailer attributes (RFC 5389, RFC 5766).
//
// The codec is intentionally dependency-free and zero-copy on decode:
// attribute values are views into the caller's buffer and must not be
// retained past the buffer's lifetime unless explicitly copied.
package stunmsg

// MagicCookie is the fixed value that follows the length field in every
// STUN header (RFC 5389 ยง6).
const MagicCookie uint32 = 0x2112A442

// HeaderSize is the length in bytes of the fixed STUN header.
const HeaderSize = 20

// TxIDSize is the length in bytes of a STUN transaction ID.
const TxIDSize = 12

// TxID is a 12-byte STUN transaction identifier.
type TxID [TxIDSize]byte

// Class is the STUN message class (request, indication, success or error
// response). It occupies 2 of the 14 type bits.
type Class uint8

const (
	ClassRequest     Class = 0x00
	ClassIndication  Class = 0x01
	ClassSuccess     Class = 0x02
	ClassError       Class = 0x03
)

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassIndication:
		return "indication"
	case ClassSuccess:
		return "success"
	case ClassError:
		return "error"
	default:
		return "unknown-class"
	}
}

// Method is the STUN/TURN method (Binding, Allocate, ...). It occupies 12
// of the 14 type bits.
type Method uint16

const (
	MethodBinding          Method = 0x001
	MethodAllocate         Method = 0x003
	MethodRefresh          Method = 0x004
	MethodSend             Method = 0x006
	MethodData             Method = 0x007
	MethodCreatePermission Method = 0x008
	MethodChannelBind      Method = 0x009
)

// Attribute type codes (RFC 5389, RFC 5766, RFC 5245/8445 for ICE priority
// and controlling/controlled).
const (
	AttrMappedAddress     uint16 = 0x0001
	AttrUsername          uint16 = 0x0006
	AttrMessageIntegrity  uint16 = 0x0008
	AttrErrorCode         uint16 = 0x0009
	AttrUnknownAttributes uint16 = 0x000A
	AttrChannelNumber     uint16 = 0x000C
	AttrLifetime          uint16 = 0x000D
	AttrXORPeerAddress    uint16 = 0x0012
	AttrData              uint16 = 0x0013
	AttrRealm             uint16 = 0x0014
	AttrNonce             uint16 = 0x0015
	AttrXORRelayedAddress uint16 = 0x0016
	AttrEvenPort          uint16 = 0x0018
	AttrRequestedTransport uint16 = 0x0019
	AttrDontFragment      uint16 = 0x001A
	AttrXORMappedAddress  uint16 = 0x0020
	AttrReservationToken  uint16 = 0x0022
	AttrPriority          uint16 = 0x0024
	AttrUseCandidate      uint16 = 0x0025
	AttrSoftware          uint16 = 0x8022
	AttrAlternateServer   uint16 = 0x8023
	AttrFingerprint       uint16 = 0x8028
	AttrICEControlled     uint16 = 0x8029
	AttrICEControlling    uint16 = 0x802A
)

// FingerprintXOR is XORed into the CRC32 checksum before it is written, per
// RFC 5389 ยง15.5 (the ASCII bytes of "STUN").
const FingerprintXOR uint32 = 0x5354554E

// ChannelDataMin and ChannelDataMax bound the channel number range reserved
// for TURN ChannelData framing (RFC 5766 ยง11).
const (
	ChannelDataMin uint16 = 0x4000
	ChannelDataMax uint16 = 0x7FFF
)
