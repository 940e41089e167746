package netstack

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/ylink/common/go/logging"
	"github.com/yanet-platform/ylink/common/go/xnetip"
	"github.com/yanet-platform/ylink/netstack/arp"
	"github.com/yanet-platform/ylink/netstack/device"
	"github.com/yanet-platform/ylink/netstack/ethernet"
	"github.com/yanet-platform/ylink/netstack/ipv4"
	"github.com/yanet-platform/ylink/netstack/proto"
)

// Config is the stack configuration.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Interface addressing.
	Interface InterfaceConfig `yaml:"interface"`
	// ARP timers.
	ARP ARPConfig `yaml:"arp"`
	// Device the stack is attached to.
	Device device.Config `yaml:"device"`
	// Dump configures the pcap recording of every frame.
	Dump DumpConfig `yaml:"dump"`
	// UDP services.
	UDP UDPConfig `yaml:"udp"`
}

// InterfaceConfig describes the addresses of the stack interface.
type InterfaceConfig struct {
	// MAC is the hardware address of the interface.
	MAC proto.HardwareAddr `yaml:"mac"`
	// IP is the IPv4 address of the interface.
	IP netip.Addr `yaml:"ip"`
	// MTU is the largest IP datagram the link carries.
	MTU int `yaml:"mtu"`
}

// ARPConfig contains address resolution timers.
type ARPConfig struct {
	// TTL is how long a resolved address stays cached.
	TTL time.Duration `yaml:"ttl"`
	// MinResendInterval is the minimum interval between two requests for
	// the same address.
	MinResendInterval time.Duration `yaml:"min_resend_interval"`
	// PendingTimeout bounds how long a packet waits for resolution. Zero
	// disables the bound.
	PendingTimeout time.Duration `yaml:"pending_timeout"`
	// Announce broadcasts a request for the local address at start.
	Announce bool `yaml:"announce"`
	// PrintInterval is the period of the ARP table dump. Zero disables it.
	PrintInterval time.Duration `yaml:"print_interval"`
}

// DumpConfig configures frame recording.
type DumpConfig struct {
	// Path of the pcap file. Empty disables recording.
	Path string `yaml:"path"`
	// Snaplen limits how much of each frame is recorded.
	Snaplen datasize.ByteSize `yaml:"snaplen"`
}

// UDPConfig configures built-in UDP services.
type UDPConfig struct {
	// EchoPorts are answered with the received payload.
	EchoPorts []uint16 `yaml:"echo_ports"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: *logging.DefaultConfig(),
		Interface: InterfaceConfig{
			MAC: proto.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			IP:  netip.MustParseAddr("10.42.0.2"),
			MTU: ipv4.DefaultMTU,
		},
		ARP: ARPConfig{
			TTL:               arp.DefaultTTL,
			MinResendInterval: arp.DefaultMinResendInterval,
			PendingTimeout:    arp.DefaultPendingTimeout,
			Announce:          true,
		},
		Device: *device.DefaultConfig(),
		Dump: DumpConfig{
			Snaplen: 64 * datasize.KB,
		},
		UDP: UDPConfig{
			EchoPorts: []uint16{7},
		},
	}
}

// LoadConfig loads configuration from a YAML file at the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (m *Config) Validate() error {
	return errors.Join(
		m.Interface.validate(m.Device.HostPrefix),
		m.ARP.validate(),
		m.validateDevice(),
		m.UDP.validate(),
	)
}

func (m *InterfaceConfig) validate(hostPrefix netip.Prefix) error {
	if m.MAC.IsZero() || m.MAC.IsMulticast() {
		return fmt.Errorf("interface MAC %s must be a unicast address", m.MAC)
	}
	if !m.IP.Is4() {
		return fmt.Errorf("interface IP %s must be an IPv4 address", m.IP)
	}

	capacity := m.MTU - ipv4.HeaderLen
	if m.MTU > ethernet.MaxPayloadLen || capacity <= 0 || capacity%8 != 0 {
		return fmt.Errorf(
			"MTU %d must not exceed %d and leave a positive multiple of 8 bytes after the IPv4 header",
			m.MTU, ethernet.MaxPayloadLen,
		)
	}

	if !hostPrefix.IsValid() {
		return nil
	}
	if !hostPrefix.Addr().Is4() {
		return fmt.Errorf("host prefix %s must be IPv4", hostPrefix)
	}
	if xnetip.CommonPrefixLen(m.IP, hostPrefix.Addr()) < hostPrefix.Bits() {
		return fmt.Errorf("interface IP %s is outside of host prefix %s", m.IP, hostPrefix)
	}
	if m.IP == hostPrefix.Addr() {
		return fmt.Errorf("interface IP %s is taken by the host side", m.IP)
	}
	if hostPrefix.Bits() < 31 {
		if m.IP == xnetip.FirstAddr(hostPrefix) || m.IP == xnetip.LastAddr(hostPrefix) {
			return fmt.Errorf("interface IP %s is the network or broadcast address of %s", m.IP, hostPrefix)
		}
	}

	return nil
}

func (m *ARPConfig) validate() error {
	if m.TTL <= 0 {
		return fmt.Errorf("ARP TTL must be positive, got %s", m.TTL)
	}
	if m.MinResendInterval <= 0 {
		return fmt.Errorf("ARP resend interval must be positive, got %s", m.MinResendInterval)
	}
	if m.PendingTimeout < 0 {
		return fmt.Errorf("ARP pending timeout must not be negative, got %s", m.PendingTimeout)
	}
	if m.PrintInterval < 0 {
		return fmt.Errorf("ARP print interval must not be negative, got %s", m.PrintInterval)
	}
	return nil
}

func (m *Config) validateDevice() error {
	if need := ethernet.HeaderLen + m.Interface.MTU; m.Device.RxBufferSize.Bytes() < uint64(need) {
		return fmt.Errorf("receive buffer %s is smaller than a %d byte frame", m.Device.RxBufferSize.HR(), need)
	}
	if m.Device.PollTimeout < 0 {
		return fmt.Errorf("poll timeout must not be negative, got %s", m.Device.PollTimeout)
	}
	if m.Dump.Path != "" && m.Dump.Snaplen == 0 {
		return fmt.Errorf("dump snaplen must be positive")
	}
	return nil
}

func (m *UDPConfig) validate() error {
	seen := map[uint16]struct{}{}
	for _, port := range m.EchoPorts {
		if port == 0 {
			return fmt.Errorf("UDP echo port must not be zero")
		}
		if _, ok := seen[port]; ok {
			return fmt.Errorf("duplicate UDP echo port %d", port)
		}
		seen[port] = struct{}{}
	}
	return nil
}
