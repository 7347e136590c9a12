// Package relay implements the TURN relay's state machine: allocation
// bookkeeping, the TURN request/response dispatch, and the credential
// rewrite applied to relayed ICE traffic.
package relay

import (
	"crypto/rand"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/kuuji/turnrelay/internal/stunmsg"
	"github.com/kuuji/turnrelay/internal/turnmsg"
	"github.com/kuuji/turnrelay/internal/webrtcmsg"
)

// Allocation is the server-side state a successful Allocate creates,
// keyed by the client's UDP transport address.
type Allocation struct {
	ClientAddr *net.UDPAddr
	Username   turnmsg.Username
	ExpiresAt  time.Time
	Key        []byte

	// IceUsername caches the relay-side, swapped form "pwd:ufrag" of the
	// first ICE-CONTROLLING/CONTROLLED request this allocation relayed.
	// Empty until the first such request is observed.
	IceUsername string
}

// Outbound is one UDP datagram the engine wants written back to the
// network.
type Outbound struct {
	Addr *net.UDPAddr
	Data []byte
}

// Config configures a new Engine.
type Config struct {
	Realm           string
	Nonce           string
	TurnPassword    string
	IcePassword     string
	Hosted          []string
	LifetimeCeiling time.Duration
	Logger          *slog.Logger
}

// Engine holds the relay's association table and dispatches every
// classified TURN request or relayed frame.
type Engine struct {
	mu           sync.Mutex
	associations map[string]*Allocation

	hosted map[string]struct{}

	realm, nonce             string
	turnPassword, icePassword string
	lifetimeCeiling          time.Duration

	log       *slog.Logger
	startedAt time.Time

	datagramsIn, datagramsOut, datagramsDropped uint64
}

// NewEngine builds an Engine from cfg. A zero LifetimeCeiling defaults to
// 60 seconds, matching the allocation lifetime ceiling.
func NewEngine(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "relay")

	hosted := make(map[string]struct{}, len(cfg.Hosted))
	for _, h := range cfg.Hosted {
		hosted[h] = struct{}{}
	}

	ceiling := cfg.LifetimeCeiling
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}

	return &Engine{
		associations:    make(map[string]*Allocation),
		hosted:          hosted,
		realm:           cfg.Realm,
		nonce:           cfg.Nonce,
		turnPassword:    cfg.TurnPassword,
		icePassword:     cfg.IcePassword,
		lifetimeCeiling: ceiling,
		log:             log,
		startedAt:       time.Now(),
	}
}

// HandleDatagram classifies and dispatches one datagram received from
// addr, returning zero or more outbound datagrams to write back.
func (e *Engine) HandleDatagram(addr *net.UDPAddr, buf []byte) []Outbound {
	req, ok := turnmsg.Decode(buf, e.lookupKey)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.datagramsIn++
	if !ok {
		e.datagramsDropped++
		e.log.Debug("dropping unrecognized datagram", "addr", addr)
		return nil
	}

	switch req.Kind {
	case turnmsg.KindBinding:
		return e.reply(addr, turnmsg.Response{Kind: turnmsg.ResBindingRes, TxID: req.TxID, XMapped: udpToStun(addr)})

	case turnmsg.KindAllocateNoAuth:
		return e.reply(addr, turnmsg.Response{
			Kind: turnmsg.ResAllocateUseAuth, TxID: req.TxID, Realm: e.realm, Nonce: e.nonce,
		})

	case turnmsg.KindAllocate:
		return e.handleAllocate(addr, req)

	case turnmsg.KindRefresh:
		return e.handleRefresh(addr, req)

	case turnmsg.KindPermission:
		if _, ok := e.associations[addr.String()]; !ok {
			return nil
		}
		return e.reply(addr, turnmsg.Response{Kind: turnmsg.ResPermissionSuc, TxID: req.TxID, Key: req.Key})

	case turnmsg.KindBindChannel:
		if _, ok := e.associations[addr.String()]; !ok {
			return nil
		}
		return e.reply(addr, turnmsg.Response{Kind: turnmsg.ResBindChannelSuc, TxID: req.TxID, Key: req.Key})

	case turnmsg.KindSend, turnmsg.KindChannel:
		return e.handleRelay(addr, req)
	}

	return nil
}

// lookupKey derives the long-term-credential key for username under the
// relay's own realm, ignoring whatever realm the client sent (the
// server's realm is always canonical). It never fails: Allocate's
// tri-part username requirement is enforced separately, after auth.
func (e *Engine) lookupKey(username, _ string) ([]byte, bool) {
	return stunmsg.DeriveKey(username, e.realm, e.turnPassword), true
}

func (e *Engine) handleAllocate(addr *net.UDPAddr, req turnmsg.Request) []Outbound {
	key := addr.String()
	now := time.Now()
	assoc := e.associations[key]

	if assoc != nil && assoc.Username.String() != req.Username && now.Before(assoc.ExpiresAt) {
		return e.reply(addr, turnmsg.Response{Kind: turnmsg.ResAllocateMismatch, TxID: req.TxID, Key: req.Key})
	}

	parsed, err := turnmsg.ParseUsername(req.Username)
	if err != nil {
		e.log.Debug("allocate: invalid username, dropping", "addr", addr, "error", err)
		return nil
	}

	e.associations[key] = &Allocation{
		ClientAddr: addr,
		Username:   parsed,
		ExpiresAt:  now.Add(e.lifetimeCeiling),
		Key:        req.Key,
	}
	e.log.Info("allocation created", "addr", addr, "dst", parsed.Dst(), "src", parsed.Src(), "token", parsed.Token())

	return e.reply(addr, turnmsg.Response{
		Kind: turnmsg.ResAllocateSuc, TxID: req.TxID,
		XMapped: udpToStun(addr), XRelayed: udpToStun(addr),
		Lifetime: uint32(e.lifetimeCeiling.Seconds()), Key: req.Key,
	})
}

func (e *Engine) handleRefresh(addr *net.UDPAddr, req turnmsg.Request) []Outbound {
	key := addr.String()
	assoc := e.associations[key]
	if assoc == nil || assoc.Username.String() != req.Username {
		return nil
	}

	if req.Lifetime == 0 {
		delete(e.associations, key)
		e.log.Info("allocation deleted by refresh", "addr", addr)
		return nil
	}

	if e.isHosted(assoc.Username.Dst()) || e.isHosted(assoc.Username.Src()) {
		lifetime := req.Lifetime
		if ceiling := uint32(e.lifetimeCeiling.Seconds()); lifetime > ceiling {
			lifetime = ceiling
		}
		assoc.ExpiresAt = time.Now().Add(time.Duration(lifetime) * time.Second)
		return e.reply(addr, turnmsg.Response{Kind: turnmsg.ResRefreshSuc, TxID: req.TxID, Lifetime: lifetime, Key: req.Key})
	}

	e.log.Info("refresh kicked, not hosted", "addr", addr, "dst", assoc.Username.Dst(), "src", assoc.Username.Src())
	return e.reply(addr, turnmsg.Response{Kind: turnmsg.ResRefreshKick, TxID: req.TxID, Key: req.Key})
}

func (e *Engine) isHosted(identity string) bool {
	_, ok := e.hosted[identity]
	return ok
}

// handleRelay implements the Send/ChannelData relay transform: decode the
// inner WebRTC-multiplexed payload, opportunistically cache the sender's
// ice_username, then forward (with credential rewriting) to every other
// allocation that pairs with the sender's.
func (e *Engine) handleRelay(addr *net.UDPAddr, req turnmsg.Request) []Outbound {
	key := addr.String()
	assoc, ok := e.associations[key]
	if !ok {
		return nil
	}

	decoded, ok := webrtcmsg.Decode(req.Data, []byte(e.icePassword))
	if !ok {
		e.log.Debug("relay: payload not recognized, dropping", "addr", addr)
		return nil
	}

	if decoded.Kind == webrtcmsg.KindIceReq && assoc.IceUsername == "" {
		if ufrag, pwd, ok := splitColon(decoded.Username); ok {
			assoc.IceUsername = pwd + ":" + ufrag
		}
	}

	if decoded.Kind == webrtcmsg.KindRtp {
		return nil
	}

	now := time.Now()
	var out []Outbound
	for otherKey, p := range e.associations {
		if otherKey == key {
			continue
		}
		if assoc.Username.Dst() != p.Username.Src() || assoc.Username.Src() != p.Username.Dst() ||
			assoc.Username.Token() != p.Username.Token() {
			continue
		}
		if p.IceUsername == "" || !now.Before(p.ExpiresAt) {
			continue
		}

		switch decoded.Kind {
		case webrtcmsg.KindDtls:
			out = append(out, e.dataIndication(p.ClientAddr, addr, req.Data))

		case webrtcmsg.KindIceReq:
			if !decoded.IntegrityKeyOK {
				// Doesn't verify against our static ICE key: this is a real
				// ICE connectivity check signed with the peers' own
				// negotiated short-term credentials, not the relay's probe
				// secret. Forward it unmodified, same as DTLS.
				out = append(out, e.dataIndication(p.ClientAddr, addr, req.Data))
				continue
			}
			_, icePwd, ok := splitColon(p.IceUsername)
			if !ok {
				continue
			}
			rewritten := decoded
			rewritten.Priority = 1
			rewritten.Username = p.IceUsername
			payload, err := encodeWebrtc(rewritten, []byte(icePwd))
			if err != nil {
				e.log.Error("re-encoding rewritten ICE request", "error", err)
				continue
			}
			out = append(out, e.dataIndication(p.ClientAddr, addr, payload))

		case webrtcmsg.KindIceRes, webrtcmsg.KindIceErr:
			payload, err := encodeWebrtc(decoded, []byte(e.icePassword))
			if err != nil {
				e.log.Error("re-encoding ICE response", "error", err)
				continue
			}
			out = append(out, e.dataIndication(p.ClientAddr, addr, payload))
		}
	}
	return out
}

// dataIndication builds a Data indication carrying payload, addressed to
// dst, with XPEER set to the original sender (src) and a fresh random
// transaction ID.
func (e *Engine) dataIndication(dst, src *net.UDPAddr, payload []byte) Outbound {
	resp := turnmsg.Response{
		Kind: turnmsg.ResData, TxID: randomTxID(),
		XPeer: udpToStun(src), Data: payload,
	}
	buf := make([]byte, 4096)
	n, err := resp.Encode(buf)
	if err != nil {
		e.log.Error("encoding data indication", "error", err)
		return Outbound{}
	}
	e.datagramsOut++
	return Outbound{Addr: dst, Data: buf[:n]}
}

func (e *Engine) reply(addr *net.UDPAddr, resp turnmsg.Response) []Outbound {
	buf := make([]byte, 4096)
	n, err := resp.Encode(buf)
	if err != nil {
		e.log.Error("encoding response", "error", err, "kind", resp.Kind)
		return nil
	}
	e.datagramsOut++
	return []Outbound{{Addr: addr, Data: buf[:n]}}
}

func encodeWebrtc(m webrtcmsg.Message, key []byte) ([]byte, error) {
	buf := make([]byte, 2048)
	n, err := m.Encode(buf, key)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func udpToStun(addr *net.UDPAddr) stunmsg.Addr {
	return stunmsg.Addr{IP: addr.IP, Port: addr.Port}
}

func splitColon(s string) (left, right string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func randomTxID() stunmsg.TxID {
	var id stunmsg.TxID
	_, _ = rand.Read(id[:])
	return id
}
