package xnetip

import (
	"encoding/binary"
	"math/bits"
	"net/netip"
)

// LastAddr returns the broadcast address of an IPv4 prefix.
func LastAddr(prefix netip.Prefix) netip.Addr {
	v4b := prefix.Addr().As4()
	addrBits := binary.BigEndian.Uint32(v4b[:])
	wildcardBits := uint32(1<<(32-prefix.Bits()) - 1)

	binary.BigEndian.PutUint32(v4b[:], addrBits|wildcardBits)
	return netip.AddrFrom4(v4b)
}

// FirstAddr returns the network address of an IPv4 prefix.
func FirstAddr(prefix netip.Prefix) netip.Addr {
	return prefix.Masked().Addr()
}

// CommonPrefixLen returns the number of leading bits shared by two IPv4
// addresses.
func CommonPrefixLen(a netip.Addr, b netip.Addr) int {
	a4, b4 := a.As4(), b.As4()
	diff := binary.BigEndian.Uint32(a4[:]) ^ binary.BigEndian.Uint32(b4[:])
	return bits.LeadingZeros32(diff)
}
