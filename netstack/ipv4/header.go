package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yanet-platform/ylink/netstack/proto"
)

const (
	// HeaderLen is the length of an IPv4 header without options.
	HeaderLen = 20
	// Version is the only supported IP version.
	Version = 4
	// DefaultTTL is the time-to-live stamped on outbound datagrams.
	DefaultTTL = 64
	// DefaultMTU is the Ethernet MTU.
	DefaultMTU = 1500

	checksumOffset = 10
	fragmentUnit   = 8
	maxOffset      = 0x1fff
)

var (
	// ErrMalformed is returned for headers that cannot be decoded.
	ErrMalformed = errors.New("malformed IPv4 header")
	// ErrChecksum is returned when the header checksum does not match.
	ErrChecksum = errors.New("IPv4 header checksum mismatch")
)

// Flags are the three control bits preceding the fragment offset.
type Flags uint8

const (
	FlagMoreFragments Flags = 1 << 0
	FlagDontFragment  Flags = 1 << 1
)

// Header is an IPv4 header. Options are not supported.
type Header struct {
	Version uint8
	// IHL is the header length in 4-byte words.
	IHL      uint8
	TOS      uint8
	TotalLen uint16
	ID       uint16
	Flags    Flags
	// FragmentOffset is measured in 8-byte units.
	FragmentOffset uint16
	TTL            uint8
	Protocol       proto.IPProtocol
	Checksum       uint16
	Src            proto.IPv4Addr
	Dst            proto.IPv4Addr
}

// Len returns the header length in bytes.
func (m *Header) Len() int {
	return int(m.IHL) * 4
}

// MoreFragments reports whether the more-fragments flag is set.
func (m *Header) MoreFragments() bool {
	return m.Flags&FlagMoreFragments != 0
}

// MarshalTo encodes the header into the first HeaderLen bytes of b.
func (m *Header) MarshalTo(b []byte) {
	_ = b[HeaderLen-1]

	b[0] = m.Version<<4 | m.IHL&0x0f
	b[1] = m.TOS
	binary.BigEndian.PutUint16(b[2:4], m.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], m.ID)
	binary.BigEndian.PutUint16(b[6:8], uint16(m.Flags&0x7)<<13|m.FragmentOffset&maxOffset)
	b[8] = m.TTL
	b[9] = uint8(m.Protocol)
	binary.BigEndian.PutUint16(b[10:12], m.Checksum)
	copy(b[12:16], m.Src[:])
	copy(b[16:20], m.Dst[:])
}

// ParseHeader decodes the fixed part of an IPv4 header. Field values are not
// validated.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformed, len(b))
	}

	fragment := binary.BigEndian.Uint16(b[6:8])
	m := &Header{
		Version:        b[0] >> 4,
		IHL:            b[0] & 0x0f,
		TOS:            b[1],
		TotalLen:       binary.BigEndian.Uint16(b[2:4]),
		ID:             binary.BigEndian.Uint16(b[4:6]),
		Flags:          Flags(fragment >> 13),
		FragmentOffset: fragment & maxOffset,
		TTL:            b[8],
		Protocol:       proto.IPProtocol(b[9]),
		Checksum:       binary.BigEndian.Uint16(b[10:12]),
	}
	copy(m.Src[:], b[12:16])
	copy(m.Dst[:], b[16:20])

	return m, nil
}
