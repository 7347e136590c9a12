package turnmsg

import (
	"encoding/binary"
	"fmt"

	"github.com/kuuji/turnrelay/internal/stunmsg"
)

// ResponseKind discriminates the TURN response/relayed-frame variants a
// relay can produce.
type ResponseKind int

const (
	ResChannel ResponseKind = iota
	ResData
	ResBindingRes
	ResAllocateUseAuth
	ResAllocateSuc
	ResAllocateMismatch
	ResPermissionSuc
	ResRefreshSuc
	ResRefreshKick
	ResBindChannelSuc
)

// Response is one TURN response or relayed-data frame to write back to a
// client. Which fields matter depends on Kind.
type Response struct {
	Kind ResponseKind
	TxID stunmsg.TxID

	Channel uint16
	Data    []byte
	XPeer   stunmsg.Addr

	Realm, Nonce     string
	Key              []byte
	XMapped, XRelayed stunmsg.Addr
	Lifetime         uint32
}

// Encode writes r into dst and returns the number of bytes written. Every
// STUN-carried variant ends the attribute list with FINGERPRINT. The
// Allocate success/mismatch, Permission, Refresh and ChannelBind variants
// put MESSAGE-INTEGRITY, keyed by Key, right before it; Binding, the 401
// challenge and Data carry no MESSAGE-INTEGRITY.
func (r Response) Encode(dst []byte) (int, error) {
	switch r.Kind {
	case ResChannel:
		if len(dst) < 4+len(r.Data) {
			return 0, fmt.Errorf("turnmsg: destination buffer too small for channel data")
		}
		binary.BigEndian.PutUint16(dst[0:2], r.Channel)
		binary.BigEndian.PutUint16(dst[2:4], uint16(len(r.Data)))
		copy(dst[4:], r.Data)
		return 4 + len(r.Data), nil

	case ResData:
		xpeer, err := stunmsg.NewXORAddr(stunmsg.AttrXORPeerAddress, r.XPeer, r.TxID)
		if err != nil {
			return 0, err
		}
		msg := &stunmsg.Message{
			Class: stunmsg.ClassIndication, Method: stunmsg.MethodData, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{xpeer, stunmsg.NewData(stunmsg.AttrData, r.Data), stunmsg.NewMarker(stunmsg.AttrFingerprint)},
		}
		return msg.Encode(dst)

	case ResBindingRes:
		xmapped, err := stunmsg.NewXORAddr(stunmsg.AttrXORMappedAddress, r.XMapped, r.TxID)
		if err != nil {
			return 0, err
		}
		msg := &stunmsg.Message{
			Class: stunmsg.ClassSuccess, Method: stunmsg.MethodBinding, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{xmapped, stunmsg.NewMarker(stunmsg.AttrFingerprint)},
		}
		return msg.Encode(dst)

	case ResAllocateUseAuth:
		msg := &stunmsg.Message{
			Class: stunmsg.ClassError, Method: stunmsg.MethodAllocate, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{
				stunmsg.NewError(401, ""),
				stunmsg.NewString(stunmsg.AttrRealm, r.Realm),
				stunmsg.NewString(stunmsg.AttrNonce, r.Nonce),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
		}
		return msg.Encode(dst)

	case ResAllocateSuc:
		xmapped, err := stunmsg.NewXORAddr(stunmsg.AttrXORMappedAddress, r.XMapped, r.TxID)
		if err != nil {
			return 0, err
		}
		xrelayed, err := stunmsg.NewXORAddr(stunmsg.AttrXORRelayedAddress, r.XRelayed, r.TxID)
		if err != nil {
			return 0, err
		}
		msg := &stunmsg.Message{
			Class: stunmsg.ClassSuccess, Method: stunmsg.MethodAllocate, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{
				xmapped, xrelayed,
				stunmsg.NewUint32(stunmsg.AttrLifetime, r.Lifetime),
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: r.Key,
		}
		return msg.Encode(dst)

	case ResAllocateMismatch:
		msg := &stunmsg.Message{
			Class: stunmsg.ClassError, Method: stunmsg.MethodAllocate, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{
				stunmsg.NewError(437, ""),
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: r.Key,
		}
		return msg.Encode(dst)

	case ResPermissionSuc:
		msg := &stunmsg.Message{
			Class: stunmsg.ClassSuccess, Method: stunmsg.MethodCreatePermission, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: r.Key,
		}
		return msg.Encode(dst)

	case ResRefreshSuc:
		msg := &stunmsg.Message{
			Class: stunmsg.ClassSuccess, Method: stunmsg.MethodRefresh, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{
				stunmsg.NewUint32(stunmsg.AttrLifetime, r.Lifetime),
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: r.Key,
		}
		return msg.Encode(dst)

	case ResRefreshKick:
		msg := &stunmsg.Message{
			Class: stunmsg.ClassError, Method: stunmsg.MethodRefresh, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{
				stunmsg.NewError(500, "Get kicked!"),
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: r.Key,
		}
		return msg.Encode(dst)

	case ResBindChannelSuc:
		msg := &stunmsg.Message{
			Class: stunmsg.ClassSuccess, Method: stunmsg.MethodChannelBind, TxID: r.TxID,
			Attrs: []stunmsg.Attribute{
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: r.Key,
		}
		return msg.Encode(dst)
	}
	return 0, fmt.Errorf("turnmsg: unknown response kind %d", r.Kind)
}
