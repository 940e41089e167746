// Package checksum implements the Internet checksum (RFC 1071).
package checksum

import (
	"encoding/binary"

	"github.com/yanet-platform/ylink/netstack/proto"
)

// Sum adds data to an unfolded running sum as big-endian 16-bit words. An odd
// trailing byte is treated as the high byte of a zero-padded word.
func Sum(initial uint32, data []byte) uint32 {
	sum := initial
	n := len(data) &^ 1
	for idx := 0; idx < n; idx += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[idx:]))
		sum = fold(sum)
	}
	if n != len(data) {
		sum += uint32(data[n]) << 8
		sum = fold(sum)
	}

	return sum
}

// Finish folds the running sum and returns its one's complement.
func Finish(sum uint32) uint16 {
	return ^uint16(fold(sum))
}

// Checksum16 returns the Internet checksum of data.
func Checksum16(data []byte) uint16 {
	return Finish(Sum(0, data))
}

// Transport returns the checksum of a transport segment prefixed with the
// IPv4 pseudo header: source, destination, zero, protocol and segment length.
func Transport(src, dst proto.IPv4Addr, protocol proto.IPProtocol, segment []byte) uint16 {
	var pseudo [12]byte
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[9] = byte(protocol)
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))

	return Finish(Sum(Sum(0, pseudo[:]), segment))
}

func fold(sum uint32) uint32 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return sum
}
