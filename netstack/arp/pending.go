package arp

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yanet-platform/ylink/netstack/buf"
	"github.com/yanet-platform/ylink/netstack/proto"
)

type pendingEntry struct {
	packet    *buf.Buffer
	createdAt time.Time
	lastSent  time.Time
}

// PendingQueue holds at most one outbound packet per unresolved address.
//
// PendingQueue is not safe for concurrent use.
type PendingQueue struct {
	entries           map[proto.IPv4Addr]*pendingEntry
	minResendInterval time.Duration
	// Zero means a packet may wait forever.
	timeout time.Duration
	clock   clockwork.Clock
}

// NewPendingQueue creates an empty queue.
func NewPendingQueue(minResendInterval time.Duration, timeout time.Duration, clock clockwork.Clock) *PendingQueue {
	return &PendingQueue{
		entries:           map[proto.IPv4Addr]*pendingEntry{},
		minResendInterval: minResendInterval,
		timeout:           timeout,
		clock:             clock,
	}
}

// Has reports whether a packet is buffered for addr.
func (m *PendingQueue) Has(addr proto.IPv4Addr) bool {
	_, ok := m.get(addr)
	return ok
}

// Enqueue buffers packet for addr and starts the resend interval. It is a
// no-op returning false when addr already has a packet.
func (m *PendingQueue) Enqueue(addr proto.IPv4Addr, packet *buf.Buffer) bool {
	if _, ok := m.get(addr); ok {
		return false
	}

	now := m.clock.Now()
	m.entries[addr] = &pendingEntry{
		packet:    packet,
		createdAt: now,
		lastSent:  now,
	}
	return true
}

// Take removes and returns the packet buffered for addr.
func (m *PendingQueue) Take(addr proto.IPv4Addr) (*buf.Buffer, bool) {
	entry, ok := m.get(addr)
	if !ok {
		return nil, false
	}

	delete(m.entries, addr)
	return entry.packet, true
}

// Requeue replaces the packet buffered for addr once the last request is
// older than the minimum resend interval. Both the resend interval and the
// timeout restart, so the caller must send exactly one request. Within the
// interval it is a no-op returning false.
func (m *PendingQueue) Requeue(addr proto.IPv4Addr, packet *buf.Buffer) bool {
	entry, ok := m.get(addr)
	if !ok {
		return false
	}

	now := m.clock.Now()
	if now.Sub(entry.lastSent) < m.minResendInterval {
		return false
	}

	entry.packet = packet
	entry.createdAt = now
	entry.lastSent = now
	return true
}

// Expire drops every packet that waited longer than the timeout and returns
// the number of dropped packets.
func (m *PendingQueue) Expire() int {
	now := m.clock.Now()

	count := 0
	for addr, entry := range m.entries {
		if m.expired(entry, now) {
			delete(m.entries, addr)
			count++
		}
	}

	return count
}

// Len returns the number of buffered packets, expired ones included.
func (m *PendingQueue) Len() int {
	return len(m.entries)
}

func (m *PendingQueue) get(addr proto.IPv4Addr) (*pendingEntry, bool) {
	entry, ok := m.entries[addr]
	if !ok {
		return nil, false
	}

	if m.expired(entry, m.clock.Now()) {
		delete(m.entries, addr)
		return nil, false
	}

	return entry, true
}

func (m *PendingQueue) expired(entry *pendingEntry, now time.Time) bool {
	return m.timeout > 0 && now.Sub(entry.createdAt) >= m.timeout
}
