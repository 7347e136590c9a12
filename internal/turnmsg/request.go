package turnmsg

import (
	"encoding/binary"

	"github.com/kuuji/turnrelay/internal/stunmsg"
)

// Kind discriminates the TURN request variants a relay needs to act on.
type Kind int

const (
	// KindChannel is a ChannelData frame (channel number 0x4000-0x7FFF).
	KindChannel Kind = iota
	// KindSend is a Send indication (client pushing data to a peer).
	KindSend
	KindBinding
	// KindAllocateNoAuth is an Allocate request with no (or a rejected)
	// MESSAGE-INTEGRITY, which should be answered with a 401 challenge.
	KindAllocateNoAuth
	KindAllocate
	KindPermission
	KindRefresh
	KindBindChannel
)

// Request is a classified TURN request. Which fields are populated
// depends on Kind; see the TURN request classifier's doc comment on
// Decode.
type Request struct {
	Kind Kind
	TxID stunmsg.TxID

	Channel uint16
	Data    []byte
	XPeer   stunmsg.Addr

	Username            string
	Key                 []byte
	RequestedTransport  byte
	Lifetime            uint32
}

// Decode classifies buf, which is a complete UDP datagram received from a
// TURN client, into one of the request variants. It returns ok=false for
// anything that is not a recognized request (truncated frames, STUN
// messages this relay doesn't act on, STUN messages that fail to parse).
//
// lookup resolves the long-term credential key for a USERNAME; requests
// that require authentication but fail CheckAuth collapse to
// KindAllocateNoAuth (for Allocate) or are rejected outright (everything
// else).
func Decode(buf []byte, lookup stunmsg.KeyLookup) (Request, bool) {
	if len(buf) < 4 {
		return Request{}, false
	}
	typ := binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])

	if typ >= 0x4000 && typ <= 0x7fff {
		if len(buf) < 4+int(length) {
			return Request{}, false
		}
		return Request{Kind: KindChannel, Channel: typ, Data: buf[4 : 4+int(length)]}, true
	}
	if typ > 0x3fff {
		return Request{}, false
	}

	msg, err := stunmsg.Decode(buf)
	if err != nil {
		return Request{}, false
	}
	view := msg.View()
	username, key, authOK := msg.CheckAuth(lookup)

	switch {
	case msg.Class == stunmsg.ClassRequest && msg.Method == stunmsg.MethodBinding:
		return Request{Kind: KindBinding, TxID: msg.TxID}, true

	case msg.Class == stunmsg.ClassRequest && msg.Method == stunmsg.MethodAllocate && !authOK:
		return Request{Kind: KindAllocateNoAuth, TxID: msg.TxID}, true

	case msg.Class == stunmsg.ClassRequest && msg.Method == stunmsg.MethodAllocate && authOK:
		if view.RequestedTransport == nil {
			return Request{}, false
		}
		proto, err := view.RequestedTransport.AsRequestedTransport()
		if err != nil {
			return Request{}, false
		}
		return Request{
			Kind: KindAllocate, TxID: msg.TxID, Username: username, Key: key,
			RequestedTransport: proto,
		}, true

	case msg.Class == stunmsg.ClassRequest && msg.Method == stunmsg.MethodCreatePermission && authOK:
		if view.XPeer == nil {
			return Request{}, false
		}
		xpeer, err := view.XPeer.AsXORAddr(msg.TxID)
		if err != nil {
			return Request{}, false
		}
		return Request{Kind: KindPermission, TxID: msg.TxID, Username: username, Key: key, XPeer: xpeer}, true

	case msg.Class == stunmsg.ClassRequest && msg.Method == stunmsg.MethodRefresh && authOK:
		lifetime := uint32(3600)
		if view.Lifetime != nil {
			if l, err := view.Lifetime.AsUint32(); err == nil {
				lifetime = l
			}
		}
		return Request{Kind: KindRefresh, TxID: msg.TxID, Username: username, Key: key, Lifetime: lifetime}, true

	case msg.Class == stunmsg.ClassRequest && msg.Method == stunmsg.MethodChannelBind && authOK:
		if view.Channel == nil || view.XPeer == nil {
			return Request{}, false
		}
		channel, err := view.Channel.AsChannelNumber()
		if err != nil {
			return Request{}, false
		}
		xpeer, err := view.XPeer.AsXORAddr(msg.TxID)
		if err != nil {
			return Request{}, false
		}
		return Request{Kind: KindBindChannel, TxID: msg.TxID, Username: username, Key: key, Channel: channel, XPeer: xpeer}, true

	case msg.Class == stunmsg.ClassIndication && msg.Method == stunmsg.MethodSend:
		if view.XPeer == nil || view.Data == nil {
			return Request{}, false
		}
		xpeer, err := view.XPeer.AsXORAddr(msg.TxID)
		if err != nil {
			return Request{}, false
		}
		return Request{Kind: KindSend, TxID: msg.TxID, XPeer: xpeer, Data: view.Data.Value}, true
	}

	return Request{}, false
}
