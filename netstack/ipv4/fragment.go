package ipv4

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/checksum"
	"github.com/yanet-platform/ylink/netstack/proto"
)

// MaxPayload is the largest payload a single datagram can carry.
const MaxPayload = 0xffff - HeaderLen

// Sender hands a complete IPv4 packet to the next hop. This is the address
// resolution layer.
type Sender interface {
	Send(packet *buf.Buffer, addr proto.IPv4Addr)
}

// Fragmenter splits outbound datagrams into MTU-sized fragments.
//
// Fragmenter is not safe for concurrent use.
type Fragmenter struct {
	addr     proto.IPv4Addr
	next     Sender
	capacity int
	ttl      uint8
	id       uint16
	log      *zap.SugaredLogger
}

// NewFragmenter creates a fragmenter stamping addr as the source address.
func NewFragmenter(addr proto.IPv4Addr, next Sender, options ...Option) (*Fragmenter, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	capacity := opts.MTU - HeaderLen
	if capacity <= 0 || capacity%fragmentUnit != 0 {
		return nil, fmt.Errorf("invalid MTU %d: payload capacity must be a positive multiple of %d", opts.MTU, fragmentUnit)
	}

	return &Fragmenter{
		addr:     addr,
		next:     next,
		capacity: capacity,
		ttl:      opts.TTL,
		log:      opts.Log,
	}, nil
}

// Capacity returns the payload size of a full fragment.
func (m *Fragmenter) Capacity() int {
	return m.capacity
}

// SendDatagram sends payload to dst as one or more fragments sharing a
// single identifier and returns the number of fragments handed to the
// resolver. The fragmenter takes ownership of payload.
//
// A payload that fits into one fragment goes out with offset 0 and the
// more-fragments flag cleared. Payloads larger than MaxPayload are dropped.
func (m *Fragmenter) SendDatagram(payload *buf.Buffer, dst proto.IPv4Addr, protocol proto.IPProtocol) int {
	if payload.Len() > MaxPayload {
		m.log.Warnw("dropping oversized datagram",
			zap.Stringer("dst", dst),
			zap.Int("size", payload.Len()),
		)
		return 0
	}

	id := m.id
	m.id++

	if payload.Len() <= m.capacity {
		m.sendFragment(payload, dst, protocol, id, 0, false)
		return 1
	}

	data := payload.Bytes()
	count := 0
	for offset := 0; offset < len(data); offset += m.capacity {
		end := min(offset+m.capacity, len(data))

		fragment := buf.From(data[offset:end])
		m.sendFragment(fragment, dst, protocol, id, uint16(offset/fragmentUnit), end < len(data))
		count++
	}

	m.log.Debugw("fragmented datagram",
		zap.Stringer("dst", dst),
		zap.Uint16("id", id),
		zap.Int("size", len(data)),
		zap.Int("fragments", count),
	)
	return count
}

func (m *Fragmenter) sendFragment(
	packet *buf.Buffer,
	dst proto.IPv4Addr,
	protocol proto.IPProtocol,
	id uint16,
	offset uint16,
	more bool,
) {
	hdr := Header{
		Version:        Version,
		IHL:            HeaderLen / 4,
		TotalLen:       uint16(HeaderLen + packet.Len()),
		ID:             id,
		FragmentOffset: offset,
		TTL:            m.ttl,
		Protocol:       protocol,
		Src:            m.addr,
		Dst:            dst,
	}
	if more {
		hdr.Flags |= FlagMoreFragments
	}

	b := packet.AddHeader(HeaderLen)
	hdr.MarshalTo(b)
	stampChecksum(b[:HeaderLen])

	m.next.Send(packet, dst)
}

// stampChecksum zeroes the checksum field of hdr and fills it with the
// header checksum.
func stampChecksum(hdr []byte) {
	binary.BigEndian.PutUint16(hdr[checksumOffset:], 0)
	binary.BigEndian.PutUint16(hdr[checksumOffset:], checksum.Checksum16(hdr))
}
