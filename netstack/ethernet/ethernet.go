// Package ethernet frames outbound payloads and dispatches inbound frames by
// EtherType.
package ethernet

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/proto"
)

const (
	// HeaderLen is the length of an Ethernet II header.
	HeaderLen = 14
	// MinPayloadLen is the minimum payload length; shorter payloads are
	// zero-padded.
	MinPayloadLen = 46
	// MaxPayloadLen is the Ethernet MTU.
	MaxPayloadLen = 1500
	// MaxFrameLen is the largest frame without FCS.
	MaxFrameLen = HeaderLen + MaxPayloadLen
)

// Driver moves raw frames to and from the wire.
type Driver interface {
	// Send transmits a complete frame.
	Send(frame []byte) error
	// Recv reads a single frame into b and returns its length. It returns
	// zero without an error when no frame is available.
	Recv(b []byte) (int, error)
}

// Handler consumes the payload of an inbound frame.
type Handler interface {
	HandleFrame(payload *buf.Buffer, src proto.HardwareAddr)
}

// Option is a function that configures the link.
type Option func(*options)

// WithLog configures the link with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithRecvBufferSize configures the size of the receive buffer.
func WithRecvBufferSize(size int) Option {
	return func(o *options) {
		o.RecvBufferSize = size
	}
}

type options struct {
	Log            *zap.SugaredLogger
	RecvBufferSize int
}

func newOptions() *options {
	return &options{
		Log:            zap.NewNop().Sugar(),
		RecvBufferSize: MaxFrameLen,
	}
}

// Link is the Ethernet layer of a single interface.
type Link struct {
	hw       proto.HardwareAddr
	driver   Driver
	handlers map[proto.EtherType]Handler
	rx       []byte
	log      *zap.SugaredLogger
}

// NewLink creates a link sending frames from hw through driver.
func NewLink(hw proto.HardwareAddr, driver Driver, options ...Option) *Link {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Link{
		hw:       hw,
		driver:   driver,
		handlers: map[proto.EtherType]Handler{},
		rx:       make([]byte, opts.RecvBufferSize),
		log:      opts.Log,
	}
}

// HardwareAddr returns the address of the interface.
func (m *Link) HardwareAddr() proto.HardwareAddr {
	return m.hw
}

// Register installs the handler for an EtherType.
func (m *Link) Register(etherType proto.EtherType, handler Handler) {
	m.handlers[etherType] = handler
}

// Transmit pads payload to the minimum length, prepends the Ethernet header
// and hands the frame to the driver.
func (m *Link) Transmit(payload *buf.Buffer, dst proto.HardwareAddr, etherType proto.EtherType) error {
	if payload.Len() > MaxPayloadLen {
		return fmt.Errorf("payload of %d bytes exceeds MTU %d", payload.Len(), MaxPayloadLen)
	}
	if payload.Len() < MinPayloadLen {
		payload.AddPadding(MinPayloadLen - payload.Len())
	}

	hdr := payload.AddHeader(HeaderLen)
	copy(hdr[0:6], dst[:])
	copy(hdr[6:12], m.hw[:])
	binary.BigEndian.PutUint16(hdr[12:14], uint16(etherType))

	if err := m.driver.Send(payload.Bytes()); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// HandleFrame strips the Ethernet header and dispatches the payload. Frames
// shorter than a header or carrying an unregistered EtherType are dropped.
func (m *Link) HandleFrame(frame []byte) {
	if len(frame) < HeaderLen {
		m.log.Debugw("dropping runt frame", zap.Int("size", len(frame)))
		return
	}

	var src proto.HardwareAddr
	copy(src[:], frame[6:12])
	etherType := proto.EtherType(binary.BigEndian.Uint16(frame[12:14]))

	handler, ok := m.handlers[etherType]
	if !ok {
		m.log.Debugw("dropping frame", zap.Stringer("ether_type", etherType), zap.Stringer("src", src))
		return
	}

	payload := buf.From(frame)
	payload.RemoveHeader(HeaderLen)
	handler.HandleFrame(payload, src)
}

// Poll reads at most one frame from the driver and runs the receive path to
// completion. It reports whether a frame was processed.
func (m *Link) Poll() (bool, error) {
	n, err := m.driver.Recv(m.rx)
	if err != nil {
		return false, fmt.Errorf("failed to receive frame: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	m.HandleFrame(m.rx[:n])
	return true, nil
}
