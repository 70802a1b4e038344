package dispatch

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed is returned by Classify for buffers that are not IP packets.
var ErrMalformed = errors.New("dispatch: malformed packet")

// IP protocol numbers recognized by Classify.
const (
	ProtoICMP   uint8 = 1
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
)

// Info is the coarse classification of a captured packet.
type Info struct {
	// Version is 4 or 6.
	Version int
	// Protocol is the IPv4 protocol or IPv6 next header.
	Protocol uint8
	// Length is the IP total length in bytes.
	Length int
}

// Classify inspects the IP header of pkt. Only the fixed header is examined;
// IPv6 extension headers are reported as their own next-header value.
func Classify(pkt []byte) (Info, error) {
	if len(pkt) == 0 {
		return Info{}, ErrMalformed
	}
	switch pkt[0] >> 4 {
	case 4:
		if len(pkt) < 20 {
			return Info{}, ErrMalformed
		}
		ihl := int(pkt[0]&0x0f) * 4
		total := int(binary.BigEndian.Uint16(pkt[2:4]))
		if ihl < 20 || total < ihl || total > len(pkt) {
			return Info{}, ErrMalformed
		}
		return Info{Version: 4, Protocol: pkt[9], Length: total}, nil
	case 6:
		if len(pkt) < 40 {
			return Info{}, ErrMalformed
		}
		total := 40 + int(binary.BigEndian.Uint16(pkt[4:6]))
		if total > len(pkt) {
			return Info{}, ErrMalformed
		}
		return Info{Version: 6, Protocol: pkt[6], Length: total}, nil
	default:
		return Info{}, ErrMalformed
	}
}
