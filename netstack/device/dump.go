package device

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"go.uber.org/zap"
)

// Dump wraps a driver and records every frame sent or received in pcap
// format.
type Dump struct {
	driver  Driver
	mu      sync.Mutex
	writer  *pcapgo.Writer
	snaplen int
	now     func() time.Time
	log     *zap.SugaredLogger
}

// NewDump writes the pcap file header to w and returns the wrapped driver.
func NewDump(driver Driver, w io.Writer, snaplen uint32, options ...Option) (*Dump, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snaplen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	return &Dump{
		driver:  driver,
		writer:  writer,
		snaplen: int(snaplen),
		now:     time.Now,
		log:     opts.Log,
	}, nil
}

// Send records and transmits frame.
func (m *Dump) Send(frame []byte) error {
	m.record(frame)
	return m.driver.Send(frame)
}

// Recv receives a frame and records it.
func (m *Dump) Recv(b []byte) (int, error) {
	n, err := m.driver.Recv(b)
	if n > 0 {
		m.record(b[:n])
	}
	return n, err
}

// Close closes the wrapped driver.
func (m *Dump) Close() error {
	return m.driver.Close()
}

func (m *Dump) record(frame []byte) {
	capLen := min(len(frame), m.snaplen)
	ci := gopacket.CaptureInfo{
		Timestamp:     m.now(),
		CaptureLength: capLen,
		Length:        len(frame),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writer.WritePacket(ci, frame[:capLen]); err != nil {
		m.log.Warnw("failed to write frame to dump", zap.Error(err))
	}
}
