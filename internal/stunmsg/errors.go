package stunmsg

import "errors"

// Decode error kinds. All of them cause the caller to drop the datagram
// without a reply (ยง7 of the design).
var (
	ErrPacketTooSmall  = errors.New("stunmsg: packet too small")
	ErrTypeOutOfRange  = errors.New("stunmsg: message type out of range")
	ErrUnalignedLength = errors.New("stunmsg: body length not a multiple of 4")
	ErrBadMagic        = errors.New("stunmsg: bad magic cookie")
	ErrAttr            = errors.New("stunmsg: malformed attribute")
)
