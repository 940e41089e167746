package arp

// State is the resolution state of a destination address.
type State int

const (
	// StateUnresolved means there is neither a cache entry nor a pending
	// packet.
	StateUnresolved State = iota
	// StateAwaitingReply means a packet is buffered and a request was sent.
	StateAwaitingReply
	// StateResolved means the cache holds a live entry.
	StateResolved
)

// String returns string representation of this state.
func (m State) String() string {
	switch m {
	case StateUnresolved:
		return "UNRESOLVED"
	case StateAwaitingReply:
		return "AWAITING_REPLY"
	case StateResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}
