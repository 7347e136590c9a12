// Package webrtcmsg classifies the payload TURN relays between peers
// (the bytes carried inside a TURN DATA/Send attribute) into the STUN
// ICE / DTLS / RTP multiplex RFC 7983 describes, and re-encodes the ICE
// STUN sub-variants after credential rewriting.
package webrtcmsg

import (
	"fmt"

	"github.com/kuuji/turnrelay/internal/stunmsg"
)

// Kind discriminates the demultiplexed payload variants.
type Kind int

const (
	KindIceReq Kind = iota
	KindIceRes
	KindIceErr
	KindDtls
	KindRtp
)

// Message is a classified WebRTC-multiplexed payload. Which fields are
// populated depends on Kind.
type Message struct {
	Kind Kind
	TxID stunmsg.TxID

	Username      string
	Priority      uint32
	TieBreaker    uint64
	IsControlling bool
	UseCandidate  bool

	XMapped stunmsg.Addr
	Error   stunmsg.ErrorValue

	// IntegrityKeyOK reports whether the decoded STUN message's
	// MESSAGE-INTEGRITY verifies against the caller-supplied key (see
	// Decode's integrityKey parameter). It is meaningless for Dtls/Rtp.
	IntegrityKeyOK bool

	Payload []byte
}

// Decode classifies buf by its first byte per RFC 7983: 0-3 is STUN, 20-63
// is DTLS, 128-191 is RTP/RTCP. integrityKey is used to verify the
// decoded STUN message's MESSAGE-INTEGRITY under the short-term
// credential mechanism (the key is the raw ICE password, not a
// long-term-credential MD5 digest); pass nil to skip verification and
// always report IntegrityKeyOK=false.
func Decode(buf []byte, integrityKey []byte) (Message, bool) {
	if len(buf) == 0 {
		return Message{}, false
	}
	first := buf[0]

	switch {
	case first <= 3:
		msg, err := stunmsg.Decode(buf)
		if err != nil {
			return Message{}, false
		}
		v := msg.View()
		switch {
		case msg.Class == stunmsg.ClassRequest && msg.Method == stunmsg.MethodBinding:
			if v.Integrity == nil || v.Username == nil || v.Priority == nil {
				return Message{}, false
			}
			priority, err := v.Priority.AsUint32()
			if err != nil {
				return Message{}, false
			}
			var tieBreaker uint64
			isControlling := v.ICEControlling != nil
			switch {
			case v.ICEControlling != nil:
				tieBreaker, err = v.ICEControlling.AsUint64()
			case v.ICEControlled != nil:
				tieBreaker, err = v.ICEControlled.AsUint64()
			default:
				return Message{}, false
			}
			if err != nil {
				return Message{}, false
			}
			m := Message{
				Kind: KindIceReq, TxID: msg.TxID,
				Username: v.Username.AsString(), Priority: priority,
				TieBreaker: tieBreaker, IsControlling: isControlling,
				UseCandidate: v.UseCandidate != nil,
			}
			if integrityKey != nil {
				m.IntegrityKeyOK = msg.VerifyIntegrity(integrityKey)
			}
			return m, true

		case msg.Class == stunmsg.ClassSuccess && msg.Method == stunmsg.MethodBinding:
			if v.Integrity == nil || v.XMapped == nil {
				return Message{}, false
			}
			xmapped, err := v.XMapped.AsXORAddr(msg.TxID)
			if err != nil {
				return Message{}, false
			}
			m := Message{Kind: KindIceRes, TxID: msg.TxID, XMapped: xmapped}
			if integrityKey != nil {
				m.IntegrityKeyOK = msg.VerifyIntegrity(integrityKey)
			}
			return m, true

		case msg.Class == stunmsg.ClassError && msg.Method == stunmsg.MethodBinding:
			if v.Integrity == nil || v.Error == nil {
				return Message{}, false
			}
			ev, err := v.Error.AsError()
			if err != nil {
				return Message{}, false
			}
			m := Message{Kind: KindIceErr, TxID: msg.TxID, Error: ev}
			if integrityKey != nil {
				m.IntegrityKeyOK = msg.VerifyIntegrity(integrityKey)
			}
			return m, true
		}
		return Message{}, false

	case first >= 20 && first <= 63:
		return Message{Kind: KindDtls, Payload: buf}, true

	case first >= 128 && first <= 191:
		return Message{Kind: KindRtp, Payload: buf}, true
	}

	return Message{}, false
}

// Encode re-serializes m into dst, reproducing the exact attribute order
// browsers emit: USERNAME, ICE-CONTROLLING/CONTROLLED, optional
// USE-CANDIDATE, PRIORITY, INTEGRITY, FINGERPRINT for IceReq; XMAPPED,
// INTEGRITY, FINGERPRINT for IceRes; ERROR-CODE, INTEGRITY, FINGERPRINT
// for IceErr. integrityKey keys the (short-term credential) MESSAGE-
// INTEGRITY placeholder.
func (m Message) Encode(dst []byte, integrityKey []byte) (int, error) {
	switch m.Kind {
	case KindDtls, KindRtp:
		n := copy(dst, m.Payload)
		return n, nil

	case KindIceReq:
		iceCtl := stunmsg.NewUint64(stunmsg.AttrICEControlled, m.TieBreaker)
		if m.IsControlling {
			iceCtl = stunmsg.NewUint64(stunmsg.AttrICEControlling, m.TieBreaker)
		}
		attrs := []stunmsg.Attribute{
			stunmsg.NewString(stunmsg.AttrUsername, m.Username),
			iceCtl,
		}
		if m.UseCandidate {
			attrs = append(attrs, stunmsg.NewMarker(stunmsg.AttrUseCandidate))
		}
		attrs = append(attrs,
			stunmsg.NewUint32(stunmsg.AttrPriority, m.Priority),
			stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
			stunmsg.NewMarker(stunmsg.AttrFingerprint),
		)
		msg := &stunmsg.Message{
			Class: stunmsg.ClassRequest, Method: stunmsg.MethodBinding, TxID: m.TxID,
			Attrs: attrs, IntegrityKey: integrityKey,
		}
		return msg.Encode(dst)

	case KindIceRes:
		xmapped, err := stunmsg.NewXORAddr(stunmsg.AttrXORMappedAddress, m.XMapped, m.TxID)
		if err != nil {
			return 0, err
		}
		msg := &stunmsg.Message{
			Class: stunmsg.ClassSuccess, Method: stunmsg.MethodBinding, TxID: m.TxID,
			Attrs: []stunmsg.Attribute{
				xmapped,
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: integrityKey,
		}
		return msg.Encode(dst)

	case KindIceErr:
		msg := &stunmsg.Message{
			Class: stunmsg.ClassError, Method: stunmsg.MethodBinding, TxID: m.TxID,
			Attrs: []stunmsg.Attribute{
				stunmsg.NewError(m.Error.Code, m.Error.Reason),
				stunmsg.NewMarker(stunmsg.AttrMessageIntegrity),
				stunmsg.NewMarker(stunmsg.AttrFingerprint),
			},
			IntegrityKey: integrityKey,
		}
		return msg.Encode(dst)
	}

	return 0, fmt.Errorf("webrtcmsg: unknown message kind %d", m.Kind)
}
