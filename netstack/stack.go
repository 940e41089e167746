// Package netstack assembles the link layer: Ethernet framing, ARP
// resolution, IPv4 fragmentation, and the ICMP and UDP endpoints on top.
package netstack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/ylink/netstack/arp"
	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/ethernet"
	"github.com/yanet-platform/ylink/netstack/icmp"
	"github.com/yanet-platform/ylink/netstack/ipv4"
	"github.com/yanet-platform/ylink/netstack/proto"
	"github.com/yanet-platform/ylink/netstack/udp"
)

// Option is a function that configures the stack.
type Option func(*options)

// WithLog configures the stack with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock configures the clock used for ARP timers.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

type options struct {
	Log   *zap.SugaredLogger
	Clock clockwork.Clock
}

func newOptions() *options {
	return &options{
		Log:   zap.NewNop().Sugar(),
		Clock: clockwork.NewRealClock(),
	}
}

// Stack is a single-interface network stack.
//
// All methods are safe for concurrent use: a single mutex serializes
// receive processing and sends. UDP handlers run under that mutex and must
// answer through their ResponseWriter instead of calling back into the
// stack.
type Stack struct {
	mu         sync.Mutex
	cfg        *Config
	hw         proto.HardwareAddr
	addr       proto.IPv4Addr
	link       *ethernet.Link
	resolver   *arp.Resolver
	fragmenter *ipv4.Fragmenter
	receiver   *ipv4.Receiver
	icmp       *icmp.ICMP
	udp        *udp.UDP
	log        *zap.SugaredLogger
}

// NewStack creates a stack on top of driver.
func NewStack(cfg *Config, driver ethernet.Driver, options ...Option) (*Stack, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	addr, err := proto.IPv4AddrFrom(cfg.Interface.IP)
	if err != nil {
		return nil, err
	}
	hw := cfg.Interface.MAC
	log := opts.Log

	link := ethernet.NewLink(hw, driver,
		ethernet.WithLog(log.Named("ethernet")),
		ethernet.WithRecvBufferSize(int(cfg.Device.RxBufferSize.Bytes())),
	)
	resolver := arp.NewResolver(hw, addr, link,
		arp.WithLog(log.Named("arp")),
		arp.WithClock(opts.Clock),
		arp.WithTTL(cfg.ARP.TTL),
		arp.WithMinResendInterval(cfg.ARP.MinResendInterval),
		arp.WithPendingTimeout(cfg.ARP.PendingTimeout),
	)
	fragmenter, err := ipv4.NewFragmenter(addr, resolver,
		ipv4.WithLog(log.Named("ipv4")),
		ipv4.WithMTU(cfg.Interface.MTU),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fragmenter: %w", err)
	}

	icmpEndpoint := icmp.New(fragmenter, icmp.WithLog(log.Named("icmp")))
	udpEndpoint := udp.New(addr, fragmenter, icmpEndpoint, udp.WithLog(log.Named("udp")))

	receiver := ipv4.NewReceiver(addr, icmpEndpoint, ipv4.WithLog(log.Named("ipv4")))
	receiver.Register(proto.IPProtocolICMP, icmpEndpoint)
	receiver.Register(proto.IPProtocolUDP, udpEndpoint)

	link.Register(proto.EtherTypeARP, resolver)
	link.Register(proto.EtherTypeIPv4, receiver)

	for _, port := range cfg.UDP.EchoPorts {
		if err := udpEndpoint.Open(port, udp.Echo); err != nil {
			return nil, fmt.Errorf("failed to open UDP echo port: %w", err)
		}
	}

	return &Stack{
		cfg:        cfg,
		hw:         hw,
		addr:       addr,
		link:       link,
		resolver:   resolver,
		fragmenter: fragmenter,
		receiver:   receiver,
		icmp:       icmpEndpoint,
		udp:        udpEndpoint,
		log:        log,
	}, nil
}

// HardwareAddr returns the interface hardware address.
func (m *Stack) HardwareAddr() proto.HardwareAddr {
	return m.hw
}

// Addr returns the interface IPv4 address.
func (m *Stack) Addr() proto.IPv4Addr {
	return m.addr
}

// Poll expires stale ARP state, then reads and processes at most one frame.
// It reports whether a frame was processed.
func (m *Stack) Poll() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolver.Expire()
	return m.link.Poll()
}

// Run processes frames until ctx is done or the driver fails.
func (m *Stack) Run(ctx context.Context) error {
	m.log.Infow("starting stack",
		zap.Stringer("mac", m.hw),
		zap.Stringer("ip", m.addr),
		zap.Int("mtu", m.cfg.Interface.MTU),
	)
	defer m.log.Infow("stopped stack")

	if m.cfg.ARP.Announce {
		m.Announce()
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.runPoll(ctx)
	})
	if m.cfg.ARP.PrintInterval > 0 {
		wg.Go(func() error {
			return m.runPrinter(ctx, m.cfg.ARP.PrintInterval)
		})
	}

	return wg.Wait()
}

func (m *Stack) runPoll(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := m.Poll(); err != nil {
			return err
		}
	}
}

func (m *Stack) runPrinter(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.PrintNeighbours()
		}
	}
}

// PrintNeighbours logs the live ARP table.
func (m *Stack) PrintNeighbours() {
	entries := m.Neighbours()

	m.log.Infow("ARP table", zap.Int("size", len(entries)))
	for _, entry := range entries {
		m.log.Infow("ARP entry",
			zap.Stringer("ip", entry.Addr),
			zap.Stringer("mac", entry.HardwareAddr),
			zap.Time("updated_at", entry.UpdatedAt),
		)
	}
}

// Announce broadcasts a request for the local address.
func (m *Stack) Announce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolver.Announce()
}

// SendDatagram sends payload to dst as an IPv4 datagram of the given
// protocol and returns the number of fragments emitted.
func (m *Stack) SendDatagram(payload []byte, dst proto.IPv4Addr, protocol proto.IPProtocol) int {
	packet := buf.From(payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fragmenter.SendDatagram(packet, dst, protocol)
}

// SendUDP sends payload from srcPort to dst:dstPort.
func (m *Stack) SendUDP(payload []byte, srcPort uint16, dst proto.IPv4Addr, dstPort uint16) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.udp.Send(payload, srcPort, dst, dstPort)
}

// OpenUDP binds handler to a local UDP port.
func (m *Stack) OpenUDP(port uint16, handler udp.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.udp.Open(port, handler)
}

// CloseUDP unbinds a local UDP port.
func (m *Stack) CloseUDP(port uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.udp.Close(port)
}

// Neighbours returns the live ARP cache entries.
func (m *Stack) Neighbours() []arp.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.resolver.Entries()
}

// State returns the resolution state of addr.
func (m *Stack) State(addr proto.IPv4Addr) arp.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.resolver.State(addr)
}
