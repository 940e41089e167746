// Package udp implements a connectionless UDP endpoint over the IPv4 layer.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/checksum"
	"github.com/yanet-platform/ylink/netstack/ipv4"
	"github.com/yanet-platform/ylink/netstack/proto"
)

// HeaderLen is the length of the UDP header.
const HeaderLen = 8

// MaxPayload is the largest payload a single datagram can carry.
const MaxPayload = ipv4.MaxPayload - HeaderLen

var (
	// ErrPortInUse is returned when opening a port that already has a
	// handler.
	ErrPortInUse = errors.New("port is already in use")
	// ErrInvalidPort is returned for port zero.
	ErrInvalidPort = errors.New("invalid port")
	// ErrTooLarge is returned when a payload does not fit into a datagram.
	ErrTooLarge = errors.New("payload is too large")
)

// Datagram is an inbound UDP datagram.
type Datagram struct {
	Src     proto.IPv4Addr
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// ResponseWriter sends replies to the originator of a datagram.
type ResponseWriter interface {
	// Reply sends payload back to the source address and port of the
	// datagram being served.
	Reply(payload []byte) error
}

// Handler serves datagrams arriving on an open port.
//
// Payload is only valid until ServeUDP returns.
type Handler interface {
	ServeUDP(w ResponseWriter, d *Datagram)
}

// HandlerFunc is an adapter to allow the use of ordinary functions as UDP
// handlers.
type HandlerFunc func(w ResponseWriter, d *Datagram)

// ServeUDP calls f(w, d).
func (f HandlerFunc) ServeUDP(w ResponseWriter, d *Datagram) {
	f(w, d)
}

// Echo is a handler replying with the received payload.
var Echo = HandlerFunc(func(w ResponseWriter, d *Datagram) {
	_ = w.Reply(d.Payload)
})

// Sender sends an IP datagram. This is the fragmentation layer.
type Sender interface {
	SendDatagram(payload *buf.Buffer, dst proto.IPv4Addr, protocol proto.IPProtocol) int
}

// UnreachableNotifier reports datagrams sent to a closed port. The packet
// starts with its IPv4 header.
type UnreachableNotifier interface {
	PortUnreachable(packet *buf.Buffer, src proto.IPv4Addr)
}

// Option is a function that configures UDP.
type Option func(*options)

// WithLog configures UDP with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// UDP is the UDP endpoint of a host.
type UDP struct {
	addr     proto.IPv4Addr
	ip       Sender
	notifier UnreachableNotifier
	ports    map[uint16]Handler
	log      *zap.SugaredLogger
}

// New creates a UDP endpoint for the local address addr.
func New(addr proto.IPv4Addr, ip Sender, notifier UnreachableNotifier, options ...Option) *UDP {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &UDP{
		addr:     addr,
		ip:       ip,
		notifier: notifier,
		ports:    map[uint16]Handler{},
		log:      opts.Log,
	}
}

// Open binds handler to port. A port that is already bound keeps its
// handler; Close it first to rebind.
func (m *UDP) Open(port uint16, handler Handler) error {
	if port == 0 {
		return ErrInvalidPort
	}
	if _, ok := m.ports[port]; ok {
		return fmt.Errorf("failed to open port %d: %w", port, ErrPortInUse)
	}

	m.ports[port] = handler
	return nil
}

// Close unbinds port. Closing a port that is not open is a no-op.
func (m *UDP) Close(port uint16) {
	delete(m.ports, port)
}

// Ports returns the number of open ports.
func (m *UDP) Ports() int {
	return len(m.ports)
}

// Send sends payload from srcPort to dst:dstPort and returns the number of
// IP fragments emitted.
func (m *UDP) Send(payload []byte, srcPort uint16, dst proto.IPv4Addr, dstPort uint16) (int, error) {
	if len(payload) > MaxPayload {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	segment := buf.New(HeaderLen + len(payload))
	b := segment.Bytes()
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(b)))
	copy(b[HeaderLen:], payload)

	sum := checksum.Transport(m.addr, dst, proto.IPProtocolUDP, b)
	if sum == 0 {
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(b[6:8], sum)

	return m.ip.SendDatagram(segment, dst, proto.IPProtocolUDP), nil
}

// HandleDatagram processes an inbound UDP segment.
func (m *UDP) HandleDatagram(payload *buf.Buffer, hdr *ipv4.Header) {
	b := payload.Bytes()
	if len(b) < HeaderLen {
		m.log.Debugw("dropping short UDP datagram", zap.Stringer("src", hdr.Src), zap.Int("size", len(b)))
		return
	}

	length := int(binary.BigEndian.Uint16(b[4:6]))
	if length < HeaderLen || length > len(b) {
		m.log.Debugw("dropping UDP datagram with bad length",
			zap.Stringer("src", hdr.Src),
			zap.Int("length", length),
			zap.Int("size", len(b)),
		)
		return
	}
	b = b[:length]

	if binary.BigEndian.Uint16(b[6:8]) != 0 {
		if sum := checksum.Transport(hdr.Src, hdr.Dst, proto.IPProtocolUDP, b); sum != 0 {
			m.log.Debugw("dropping UDP datagram with bad checksum", zap.Stringer("src", hdr.Src))
			return
		}
	}

	d := &Datagram{
		Src:     hdr.Src,
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Payload: b[HeaderLen:],
	}

	handler, ok := m.ports[d.DstPort]
	if !ok {
		m.log.Debugw("port unreachable", zap.Stringer("src", hdr.Src), zap.Uint16("port", d.DstPort))
		payload.AddHeader(hdr.Len())
		m.notifier.PortUnreachable(payload, hdr.Src)
		return
	}

	handler.ServeUDP(&responseWriter{udp: m, d: d}, d)
}

type responseWriter struct {
	udp *UDP
	d   *Datagram
}

func (m *responseWriter) Reply(payload []byte) error {
	_, err := m.udp.Send(payload, m.d.DstPort, m.d.Src, m.d.SrcPort)
	return err
}
