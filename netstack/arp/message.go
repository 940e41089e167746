package arp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yanet-platform/ylink/netstack/proto"
)

// MessageLen is the length of an Ethernet/IPv4 ARP message.
const MessageLen = 28

const hardwareTypeEthernet = 1

// ErrMalformed is returned when a message is not an Ethernet/IPv4 ARP
// request or reply.
var ErrMalformed = errors.New("malformed ARP message")

// Operation is the ARP opcode.
type Operation uint16

const (
	OperationRequest Operation = 1
	OperationReply   Operation = 2
)

func (m Operation) String() string {
	switch m {
	case OperationRequest:
		return "request"
	case OperationReply:
		return "reply"
	}
	return fmt.Sprintf("unknown operation %d", uint16(m))
}

// Message is an ARP message for Ethernet hardware and IPv4 protocol
// addresses.
type Message struct {
	HardwareType       uint16
	ProtocolType       proto.EtherType
	HardwareAddrLen    uint8
	ProtocolAddrLen    uint8
	Operation          Operation
	SenderHardwareAddr proto.HardwareAddr
	SenderIP           proto.IPv4Addr
	TargetHardwareAddr proto.HardwareAddr
	TargetIP           proto.IPv4Addr
}

// NewRequest builds a request asking who owns target. The target hardware
// address is left zero.
func NewRequest(hw proto.HardwareAddr, ip proto.IPv4Addr, target proto.IPv4Addr) *Message {
	return &Message{
		HardwareType:       hardwareTypeEthernet,
		ProtocolType:       proto.EtherTypeIPv4,
		HardwareAddrLen:    proto.HardwareAddrLen,
		ProtocolAddrLen:    proto.IPv4AddrLen,
		Operation:          OperationRequest,
		SenderHardwareAddr: hw,
		SenderIP:           ip,
		TargetIP:           target,
	}
}

// NewReply builds a reply to req announcing that ip is at hw.
func NewReply(hw proto.HardwareAddr, ip proto.IPv4Addr, req *Message) *Message {
	return &Message{
		HardwareType:       hardwareTypeEthernet,
		ProtocolType:       proto.EtherTypeIPv4,
		HardwareAddrLen:    proto.HardwareAddrLen,
		ProtocolAddrLen:    proto.IPv4AddrLen,
		Operation:          OperationReply,
		SenderHardwareAddr: hw,
		SenderIP:           ip,
		TargetHardwareAddr: req.SenderHardwareAddr,
		TargetIP:           req.SenderIP,
	}
}

// MarshalTo encodes the message into b, which must be at least MessageLen
// bytes long.
func (m *Message) MarshalTo(b []byte) {
	_ = b[MessageLen-1]

	binary.BigEndian.PutUint16(b[0:2], m.HardwareType)
	binary.BigEndian.PutUint16(b[2:4], uint16(m.ProtocolType))
	b[4] = m.HardwareAddrLen
	b[5] = m.ProtocolAddrLen
	binary.BigEndian.PutUint16(b[6:8], uint16(m.Operation))
	copy(b[8:14], m.SenderHardwareAddr[:])
	copy(b[14:18], m.SenderIP[:])
	copy(b[18:24], m.TargetHardwareAddr[:])
	copy(b[24:28], m.TargetIP[:])
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Message) MarshalBinary() ([]byte, error) {
	b := make([]byte, MessageLen)
	m.MarshalTo(b)
	return b, nil
}

// ParseMessage decodes and validates a message. Trailing bytes, such as
// Ethernet padding, are ignored.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) < MessageLen {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformed, len(b))
	}

	m := &Message{
		HardwareType:    binary.BigEndian.Uint16(b[0:2]),
		ProtocolType:    proto.EtherType(binary.BigEndian.Uint16(b[2:4])),
		HardwareAddrLen: b[4],
		ProtocolAddrLen: b[5],
		Operation:       Operation(binary.BigEndian.Uint16(b[6:8])),
	}
	copy(m.SenderHardwareAddr[:], b[8:14])
	copy(m.SenderIP[:], b[14:18])
	copy(m.TargetHardwareAddr[:], b[18:24])
	copy(m.TargetIP[:], b[24:28])

	if err := m.validate(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Message) validate() error {
	if m.HardwareType != hardwareTypeEthernet {
		return fmt.Errorf("%w: hardware type %d", ErrMalformed, m.HardwareType)
	}
	if m.ProtocolType != proto.EtherTypeIPv4 {
		return fmt.Errorf("%w: protocol type 0x%04x", ErrMalformed, uint16(m.ProtocolType))
	}
	if m.HardwareAddrLen != proto.HardwareAddrLen {
		return fmt.Errorf("%w: hardware address length %d", ErrMalformed, m.HardwareAddrLen)
	}
	if m.ProtocolAddrLen != proto.IPv4AddrLen {
		return fmt.Errorf("%w: protocol address length %d", ErrMalformed, m.ProtocolAddrLen)
	}
	if m.Operation != OperationRequest && m.Operation != OperationReply {
		return fmt.Errorf("%w: %s", ErrMalformed, m.Operation)
	}

	return nil
}
