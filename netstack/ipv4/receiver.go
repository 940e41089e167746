package ipv4

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/checksum"
	"github.com/yanet-platform/ylink/netstack/proto"
)

// Handler consumes the payload of a datagram addressed to this host. The
// header bytes stay in the payload headroom and can be restored with
// AddHeader(hdr.Len()).
type Handler interface {
	HandleDatagram(payload *buf.Buffer, hdr *Header)
}

// HandlerFunc is an adapter to allow the use of ordinary functions as
// datagram handlers.
type HandlerFunc func(payload *buf.Buffer, hdr *Header)

// HandleDatagram calls f(payload, hdr).
func (f HandlerFunc) HandleDatagram(payload *buf.Buffer, hdr *Header) {
	f(payload, hdr)
}

// UnreachableNotifier reports datagrams carrying an unknown protocol. The
// packet still starts with its IPv4 header.
type UnreachableNotifier interface {
	ProtocolUnreachable(packet *buf.Buffer, src proto.IPv4Addr)
}

// Receiver validates inbound datagrams and dispatches them by protocol.
//
// Fragments are not reassembled: every fragment is validated and delivered
// on its own.
type Receiver struct {
	addr     proto.IPv4Addr
	handlers map[proto.IPProtocol]Handler
	notifier UnreachableNotifier
	log      *zap.SugaredLogger
}

// NewReceiver creates a receiver accepting datagrams addressed to addr.
func NewReceiver(addr proto.IPv4Addr, notifier UnreachableNotifier, options ...Option) *Receiver {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Receiver{
		addr:     addr,
		handlers: map[proto.IPProtocol]Handler{},
		notifier: notifier,
		log:      opts.Log,
	}
}

// Register installs the handler for an upper-layer protocol.
func (m *Receiver) Register(protocol proto.IPProtocol, handler Handler) {
	m.handlers[protocol] = handler
}

// HandleFrame processes a datagram received from src. Invalid datagrams and
// datagrams for other hosts are dropped.
func (m *Receiver) HandleFrame(packet *buf.Buffer, src proto.HardwareAddr) {
	hdr, err := m.validate(packet)
	if err != nil {
		m.log.Debugw("dropping datagram", zap.Stringer("src", src), zap.Error(err))
		return
	}

	if padding := packet.Len() - int(hdr.TotalLen); padding > 0 {
		packet.RemovePadding(padding)
	}

	handler, ok := m.handlers[hdr.Protocol]
	if !ok {
		m.log.Debugw("unknown protocol",
			zap.Stringer("protocol", hdr.Protocol),
			zap.Stringer("src", hdr.Src),
		)
		m.notifier.ProtocolUnreachable(packet, hdr.Src)
		return
	}

	packet.RemoveHeader(hdr.Len())
	handler.HandleDatagram(packet, hdr)
}

func (m *Receiver) validate(packet *buf.Buffer) (*Header, error) {
	data := packet.Bytes()

	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrMalformed, hdr.Version)
	}
	if hdr.Len() < HeaderLen || hdr.Len() > len(data) {
		return nil, fmt.Errorf("%w: header length %d", ErrMalformed, hdr.Len())
	}
	if int(hdr.TotalLen) > len(data) || int(hdr.TotalLen) < hdr.Len() {
		return nil, fmt.Errorf("%w: total length %d, received %d", ErrMalformed, hdr.TotalLen, len(data))
	}

	header := data[:hdr.Len()]
	header[checksumOffset], header[checksumOffset+1] = 0, 0
	sum := checksum.Checksum16(header)
	binary.BigEndian.PutUint16(header[checksumOffset:], hdr.Checksum)
	if sum != hdr.Checksum {
		return nil, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrChecksum, hdr.Checksum, sum)
	}

	if hdr.Dst != m.addr {
		return nil, fmt.Errorf("destination %s is not local", hdr.Dst)
	}

	return hdr, nil
}
