// Package proto contains address types and protocol numbers shared by every
// layer of the stack.
package proto

import (
	"fmt"
	"net"
	"net/netip"
)

// HardwareAddrLen is the length of an EUI-48 hardware address.
const HardwareAddrLen = 6

// IPv4AddrLen is the length of an IPv4 address.
const IPv4AddrLen = 4

// HardwareAddr is an EUI-48 link-layer address.
type HardwareAddr [HardwareAddrLen]byte

// BroadcastHardwareAddr is the Ethernet broadcast address.
var BroadcastHardwareAddr = HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseHardwareAddr parses an EUI-48 address in any notation accepted by
// net.ParseMAC.
func ParseHardwareAddr(s string) (HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return HardwareAddr{}, err
	}
	if len(mac) != HardwareAddrLen {
		return HardwareAddr{}, fmt.Errorf("unsupported hardware address %q: must be EUI-48", s)
	}

	return HardwareAddr(mac), nil
}

// IsZero reports whether the address is all zeros.
func (m HardwareAddr) IsZero() bool {
	return m == HardwareAddr{}
}

// IsMulticast reports whether the group bit is set. Broadcast is multicast
// too.
func (m HardwareAddr) IsMulticast() bool {
	return m[0]&0x01 != 0
}

func (m HardwareAddr) String() string {
	return net.HardwareAddr(m[:]).String()
}

// MarshalText implements encoding.TextMarshaler.
func (m HardwareAddr) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *HardwareAddr) UnmarshalText(text []byte) error {
	addr, err := ParseHardwareAddr(string(text))
	if err != nil {
		return err
	}

	*m = addr
	return nil
}

// IPv4Addr is an IPv4 address in network byte order.
type IPv4Addr [IPv4AddrLen]byte

// IPv4AddrFrom converts netip.Addr into IPv4Addr.
func IPv4AddrFrom(addr netip.Addr) (IPv4Addr, error) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return IPv4Addr{}, fmt.Errorf("address %s is not IPv4", addr)
	}

	return IPv4Addr(addr.As4()), nil
}

// ParseIPv4Addr parses a dotted-quad IPv4 address.
func ParseIPv4Addr(s string) (IPv4Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return IPv4Addr{}, err
	}

	return IPv4AddrFrom(addr)
}

// MustParseIPv4Addr is like ParseIPv4Addr but panics on error.
func MustParseIPv4Addr(s string) IPv4Addr {
	addr, err := ParseIPv4Addr(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// Addr returns the address as netip.Addr.
func (m IPv4Addr) Addr() netip.Addr {
	return netip.AddrFrom4(m)
}

func (m IPv4Addr) String() string {
	return m.Addr().String()
}

// EtherType is the protocol identifier carried in the Ethernet header.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

func (m EtherType) String() string {
	switch m {
	case EtherTypeIPv4:
		return "ipv4"
	case EtherTypeARP:
		return "arp"
	}
	return fmt.Sprintf("unknown ether type 0x%04x", uint16(m))
}

// IPProtocol is the value of the IPv4 protocol field.
type IPProtocol uint8

const (
	IPProtocolICMP IPProtocol = 1
	IPProtocolTCP  IPProtocol = 6
	IPProtocolUDP  IPProtocol = 17
)

func (m IPProtocol) String() string {
	switch m {
	case IPProtocolICMP:
		return "icmp"
	case IPProtocolTCP:
		return "tcp"
	case IPProtocolUDP:
		return "udp"
	}
	return fmt.Sprintf("unknown protocol 0x%02x", uint8(m))
}
