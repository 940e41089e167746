// Package arp resolves IPv4 addresses into Ethernet addresses.
//
// The Resolver owns the address cache and the pending queue. An outbound
// packet for an unknown address is buffered while a broadcast request goes
// out; the reply, observed on a later receive poll, refreshes the cache and
// flushes the buffered packet.
package arp

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/proto"
)

const (
	// DefaultTTL is the lifetime of a cache entry since its last refresh.
	DefaultTTL = 5 * time.Minute
	// DefaultMinResendInterval is the minimum delay between two requests
	// for the same address.
	DefaultMinResendInterval = time.Second
	// DefaultPendingTimeout is how long a packet may wait for resolution.
	DefaultPendingTimeout = time.Minute
)

// Transmitter sends a payload to a hardware address. This is the Ethernet
// layer.
type Transmitter interface {
	Transmit(packet *buf.Buffer, dst proto.HardwareAddr, etherType proto.EtherType) error
}

// LearnPolicy decides whether the sender mapping of a valid message is
// written into the cache.
type LearnPolicy func(msg *Message, src proto.HardwareAddr) bool

// LearnAll accepts every mapping, requests and replies alike.
func LearnAll(*Message, proto.HardwareAddr) bool {
	return true
}

// Option is a function that configures the resolver.
type Option func(*options)

// WithLog configures the resolver with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock configures the time source for cache and pending expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithTTL configures the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.TTL = ttl
	}
}

// WithMinResendInterval configures the minimum delay between requests for
// the same address.
func WithMinResendInterval(interval time.Duration) Option {
	return func(o *options) {
		o.MinResendInterval = interval
	}
}

// WithPendingTimeout configures how long a buffered packet may wait for a
// reply. Zero disables the bound.
func WithPendingTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.PendingTimeout = timeout
	}
}

// WithLearnPolicy configures which sender mappings are learned.
func WithLearnPolicy(policy LearnPolicy) Option {
	return func(o *options) {
		o.LearnPolicy = policy
	}
}

type options struct {
	Log               *zap.SugaredLogger
	Clock             clockwork.Clock
	TTL               time.Duration
	MinResendInterval time.Duration
	PendingTimeout    time.Duration
	LearnPolicy       LearnPolicy
}

func newOptions() *options {
	return &options{
		Log:               zap.NewNop().Sugar(),
		Clock:             clockwork.NewRealClock(),
		TTL:               DefaultTTL,
		MinResendInterval: DefaultMinResendInterval,
		PendingTimeout:    DefaultPendingTimeout,
		LearnPolicy:       LearnAll,
	}
}

// Resolver is the ARP state machine of a single interface.
//
// Resolver is not safe for concurrent use: receive handling and sends must
// be serialized by the caller so that a request, its reply and the flush
// never interleave.
type Resolver struct {
	hw      proto.HardwareAddr
	addr    proto.IPv4Addr
	link    Transmitter
	cache   *Cache
	pending *PendingQueue
	learn   LearnPolicy
	log     *zap.SugaredLogger
}

// NewResolver creates a resolver for the interface owning hw and addr.
func NewResolver(hw proto.HardwareAddr, addr proto.IPv4Addr, link Transmitter, options ...Option) *Resolver {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Resolver{
		hw:      hw,
		addr:    addr,
		link:    link,
		cache:   NewCache(opts.TTL, opts.Clock),
		pending: NewPendingQueue(opts.MinResendInterval, opts.PendingTimeout, opts.Clock),
		learn:   opts.LearnPolicy,
		log:     opts.Log,
	}
}

// Send delivers an IPv4 packet to addr.
//
// On a cache hit the packet goes out immediately. Otherwise it is buffered
// and a request is broadcast. When a packet is already buffered for addr the
// new one is dropped, unless the previous request is older than the minimum
// resend interval: then the new packet takes the slot and the request is
// repeated.
func (m *Resolver) Send(packet *buf.Buffer, addr proto.IPv4Addr) {
	if hw, ok := m.cache.Lookup(addr); ok {
		m.transmit(packet, hw, proto.EtherTypeIPv4)
		return
	}

	if m.pending.Has(addr) {
		if m.pending.Requeue(addr, packet) {
			m.log.Debugw("repeating ARP request", zap.Stringer("ip", addr))
			m.Request(addr)
			return
		}
		m.log.Debugw("dropping packet: resolution in progress",
			zap.Stringer("ip", addr),
			zap.Int("size", packet.Len()),
		)
		return
	}

	m.pending.Enqueue(addr, packet)
	m.Request(addr)
}

// HandleFrame processes an ARP message received from src. Malformed
// messages are dropped.
func (m *Resolver) HandleFrame(packet *buf.Buffer, src proto.HardwareAddr) {
	msg, err := ParseMessage(packet.Bytes())
	if err != nil {
		m.log.Debugw("dropping ARP message", zap.Stringer("src", src), zap.Error(err))
		return
	}

	m.log.Debugw("received ARP message",
		zap.Stringer("op", msg.Operation),
		zap.Stringer("sender_ip", msg.SenderIP),
		zap.Stringer("sender_hw", msg.SenderHardwareAddr),
		zap.Stringer("target_ip", msg.TargetIP),
	)

	learned := m.learn(msg, src)
	if learned {
		m.cache.Update(msg.SenderIP, msg.SenderHardwareAddr)
	}

	if msg.Operation == OperationRequest && msg.TargetIP == m.addr {
		m.reply(msg)
	}

	// A learned mapping resolves the sender whatever the opcode.
	if learned || msg.Operation == OperationReply {
		if pending, ok := m.pending.Take(msg.SenderIP); ok {
			m.log.Debugw("flushing pending packet", zap.Stringer("ip", msg.SenderIP))
			m.transmit(pending, msg.SenderHardwareAddr, proto.EtherTypeIPv4)
		}
	}
}

// Request broadcasts a request for target.
func (m *Resolver) Request(target proto.IPv4Addr) {
	m.sendMessage(NewRequest(m.hw, m.addr, target), proto.BroadcastHardwareAddr)
}

// Announce broadcasts a request for the local address, so that neighbours
// learn this interface.
func (m *Resolver) Announce() {
	m.Request(m.addr)
}

// Expire drops buffered packets that waited longer than the pending timeout.
func (m *Resolver) Expire() {
	if count := m.pending.Expire(); count > 0 {
		m.log.Debugw("dropped unresolved packets", zap.Int("count", count))
	}
}

// State returns the resolution state of addr.
func (m *Resolver) State(addr proto.IPv4Addr) State {
	if _, ok := m.cache.Lookup(addr); ok {
		return StateResolved
	}
	if m.pending.Has(addr) {
		return StateAwaitingReply
	}
	return StateUnresolved
}

// Lookup returns the cached hardware address of addr.
func (m *Resolver) Lookup(addr proto.IPv4Addr) (proto.HardwareAddr, bool) {
	return m.cache.Lookup(addr)
}

// Entries returns a snapshot of the live cache entries.
func (m *Resolver) Entries() []Entry {
	return m.cache.Entries()
}

func (m *Resolver) reply(req *Message) {
	m.sendMessage(NewReply(m.hw, m.addr, req), req.SenderHardwareAddr)
}

func (m *Resolver) sendMessage(msg *Message, dst proto.HardwareAddr) {
	packet := buf.New(MessageLen)
	msg.MarshalTo(packet.Bytes())

	m.log.Debugw("sending ARP message",
		zap.Stringer("op", msg.Operation),
		zap.Stringer("target_ip", msg.TargetIP),
		zap.Stringer("dst", dst),
	)
	m.transmit(packet, dst, proto.EtherTypeARP)
}

func (m *Resolver) transmit(packet *buf.Buffer, dst proto.HardwareAddr, etherType proto.EtherType) {
	if err := m.link.Transmit(packet, dst, etherType); err != nil {
		m.log.Warnw("failed to transmit frame",
			zap.Stringer("dst", dst),
			zap.Stringer("ether_type", etherType),
			zap.Error(err),
		)
	}
}
