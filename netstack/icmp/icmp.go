// Package icmp answers echo requests and reports unreachable destinations.
package icmp

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/checksum"
	"github.com/yanet-platform/ylink/netstack/ipv4"
	"github.com/yanet-platform/ylink/netstack/proto"
)

// HeaderLen is the length of the ICMP header.
const HeaderLen = 8

// Type is the ICMP message type.
type Type uint8

const (
	TypeEchoReply       Type = 0
	TypeDestUnreachable Type = 3
	TypeEchoRequest     Type = 8
)

// Destination-unreachable codes.
const (
	CodeProtocolUnreachable uint8 = 2
	CodePortUnreachable     uint8 = 3
)

// quotedPayloadLen is how much of the offending payload is quoted back.
const quotedPayloadLen = 8

// Sender sends an IP datagram. This is the fragmentation layer.
type Sender interface {
	SendDatagram(payload *buf.Buffer, dst proto.IPv4Addr, protocol proto.IPProtocol) int
}

// Option is a function that configures ICMP.
type Option func(*options)

// WithLog configures ICMP with a logger.
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

// ICMP is the ICMP endpoint of a host.
type ICMP struct {
	ip  Sender
	log *zap.SugaredLogger
}

// New creates an ICMP endpoint sending through ip.
func New(ip Sender, options ...Option) *ICMP {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &ICMP{
		ip:  ip,
		log: opts.Log,
	}
}

// HandleDatagram processes an inbound ICMP message. Echo requests are
// answered; everything else is ignored.
func (m *ICMP) HandleDatagram(payload *buf.Buffer, hdr *ipv4.Header) {
	src := hdr.Src
	data := payload.Bytes()
	if len(data) < HeaderLen {
		m.log.Debugw("dropping short ICMP message", zap.Stringer("src", src), zap.Int("size", len(data)))
		return
	}
	if checksum.Checksum16(data) != 0 {
		m.log.Debugw("dropping ICMP message with bad checksum", zap.Stringer("src", src))
		return
	}

	if Type(data[0]) != TypeEchoRequest {
		return
	}

	reply := buf.From(data)
	b := reply.Bytes()
	b[0] = byte(TypeEchoReply)
	b[1] = 0
	stampChecksum(b)

	m.ip.SendDatagram(reply, src, proto.IPProtocolICMP)
}

// ProtocolUnreachable reports that the protocol of packet is not supported.
func (m *ICMP) ProtocolUnreachable(packet *buf.Buffer, src proto.IPv4Addr) {
	m.Unreachable(packet, src, CodeProtocolUnreachable)
}

// PortUnreachable reports that no socket listens on the destination port of
// packet.
func (m *ICMP) PortUnreachable(packet *buf.Buffer, src proto.IPv4Addr) {
	m.Unreachable(packet, src, CodePortUnreachable)
}

// Unreachable sends a destination-unreachable message to src quoting the IP
// header and the first 8 payload bytes of packet.
func (m *ICMP) Unreachable(packet *buf.Buffer, src proto.IPv4Addr, code uint8) {
	data := packet.Bytes()

	quoted := len(data)
	if hdr, err := ipv4.ParseHeader(data); err == nil {
		quoted = min(quoted, hdr.Len()+quotedPayloadLen)
	}

	msg := buf.New(HeaderLen + quoted)
	b := msg.Bytes()
	b[0] = byte(TypeDestUnreachable)
	b[1] = code
	copy(b[HeaderLen:], data[:quoted])
	stampChecksum(b)

	m.log.Debugw("sending destination unreachable", zap.Stringer("dst", src), zap.Uint8("code", code))
	m.ip.SendDatagram(msg, src, proto.IPProtocolICMP)
}

func stampChecksum(b []byte) {
	binary.BigEndian.PutUint16(b[2:4], 0)
	binary.BigEndian.PutUint16(b[2:4], checksum.Checksum16(b))
}
