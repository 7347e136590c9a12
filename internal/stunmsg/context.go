package stunmsg

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
)

// patchedLength returns a copy of header with the body-length field
// rewritten to length. FINGERPRINT and INTEGRITY are each computed over a
// header whose declared length is synthetic: "as if the message ended
// right after this attribute", not the final on-wire length.
func patchedLength(header [20]byte, length uint16) [20]byte {
	h := header
	binary.BigEndian.PutUint16(h[2:4], length)
	return h
}

// computeFingerprint computes the FINGERPRINT attribute's 4-byte content:
// CRC32 (IEEE 802.3) of the header (with length patched to prefixLen+8)
// concatenated with the attribute prefix, XORed with the STUN fingerprint
// constant.
func computeFingerprint(header [20]byte, attrsPrefix []byte) uint32 {
	h := patchedLength(header, uint16(len(attrsPrefix))+8)
	crc := crc32.NewIEEE()
	crc.Write(h[:])
	crc.Write(attrsPrefix)
	return crc.Sum32() ^ FingerprintXOR
}

// computeIntegrity computes the MESSAGE-INTEGRITY attribute's 20-byte
// content: HMAC-SHA1 over the header (with length patched to
// prefixLen+24) concatenated with the attribute prefix, keyed by key.
func computeIntegrity(header [20]byte, attrsPrefix []byte, key []byte) [20]byte {
	h := patchedLength(header, uint16(len(attrsPrefix))+24)
	mac := hmac.New(sha1.New, key)
	mac.Write(h[:])
	mac.Write(attrsPrefix)
	var out [20]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// verifyIntegrity reports whether got (the 20-byte content of an on-wire
// MESSAGE-INTEGRITY attribute) matches the HMAC computed over header and
// attrsPrefix under key. Comparison is constant-time.
func verifyIntegrity(header [20]byte, attrsPrefix []byte, key []byte, got []byte) bool {
	want := computeIntegrity(header, attrsPrefix, key)
	return hmac.Equal(want[:], got)
}
