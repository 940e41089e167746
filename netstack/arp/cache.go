package arp

import (
	"bytes"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yanet-platform/ylink/netstack/proto"
)

// Cache maps IPv4 addresses to hardware addresses.
//
// Entries expire ttl after their last refresh. Expiry is checked lazily on
// lookup, there is no background sweeper. Cache is not safe for concurrent
// use.
type Cache struct {
	entries map[proto.IPv4Addr]Entry
	ttl     time.Duration
	clock   clockwork.Clock
}

// NewCache creates an empty cache.
func NewCache(ttl time.Duration, clock clockwork.Clock) *Cache {
	return &Cache{
		entries: map[proto.IPv4Addr]Entry{},
		ttl:     ttl,
		clock:   clock,
	}
}

// Lookup returns the hardware address for addr. An expired entry is evicted
// and reported as absent.
func (m *Cache) Lookup(addr proto.IPv4Addr) (proto.HardwareAddr, bool) {
	entry, ok := m.entries[addr]
	if !ok {
		return proto.HardwareAddr{}, false
	}

	if m.expired(entry, m.clock.Now()) {
		delete(m.entries, addr)
		return proto.HardwareAddr{}, false
	}

	return entry.HardwareAddr, true
}

// Update inserts or refreshes the mapping for addr.
func (m *Cache) Update(addr proto.IPv4Addr, hw proto.HardwareAddr) {
	m.entries[addr] = Entry{
		Addr:         addr,
		HardwareAddr: hw,
		UpdatedAt:    m.clock.Now(),
	}
}

// Entries returns live entries ordered by address.
func (m *Cache) Entries() []Entry {
	now := m.clock.Now()

	entries := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if !m.expired(entry, now) {
			entries = append(entries, entry)
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return bytes.Compare(a.Addr[:], b.Addr[:])
	})

	return entries
}

// Len returns the number of stored entries, expired ones included.
func (m *Cache) Len() int {
	return len(m.entries)
}

func (m *Cache) expired(entry Entry, now time.Time) bool {
	return now.Sub(entry.UpdatedAt) >= m.ttl
}
