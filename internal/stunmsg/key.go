package stunmsg

import "crypto/md5" //nolint:gosec // MD5 is mandated by the long-term credential mechanism (RFC 5389 ยง15.4).

// DeriveKey computes the long-term-credential key used to key
// MESSAGE-INTEGRITY: MD5(username ":" realm ":" password).
func DeriveKey(username, realm, password string) []byte {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password)) //nolint:gosec
	return sum[:]
}
