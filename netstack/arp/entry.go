package arp

import (
	"fmt"
	"time"

	"github.com/yanet-platform/ylink/netstack/proto"
)

// Entry is a resolved neighbour.
type Entry struct {
	// Addr is the IPv4 address of the neighbour.
	Addr proto.IPv4Addr
	// HardwareAddr is the link-layer address the neighbour announced.
	HardwareAddr proto.HardwareAddr
	// UpdatedAt is the timestamp when this entry was last refreshed.
	UpdatedAt time.Time
}

func (m Entry) String() string {
	return fmt.Sprintf("%s | %s | %s", m.Addr, m.HardwareAddr, m.UpdatedAt.UTC().Format(time.DateTime))
}
