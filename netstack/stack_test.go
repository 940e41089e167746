package netstack

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/ylink/common/go/xerror"
	"github.com/yanet-platform/ylink/common/go/xpacket"
	"github.com/yanet-platform/ylink/netstack/arp"
	"github.com/yanet-platform/ylink/netstack/device"
	"github.com/yanet-platform/ylink/netstack/proto"
	"github.com/yanet-platform/ylink/netstack/udp"
)

var (
	stackMAC = xerror.Unwrap(proto.ParseHardwareAddr("02:00:00:00:00:01"))
	stackIP  = proto.MustParseIPv4Addr("10.42.0.2")
	hostMAC  = xerror.Unwrap(proto.ParseHardwareAddr("02:00:00:00:00:02"))
	hostIP   = proto.MustParseIPv4Addr("10.42.0.1")
)

type stackFixture struct {
	stack *Stack
	host  *device.Endpoint
	clock *clockwork.FakeClock
}

func newStackFixture(t *testing.T, mutate ...func(cfg *Config)) *stackFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Interface.MAC = stackMAC
	cfg.Interface.IP = stackIP.Addr()
	cfg.Device.HostPrefix = netip.MustParsePrefix("10.42.0.1/24")
	for _, fn := range mutate {
		fn(cfg)
	}

	local, host := device.NewPipe(device.WithRecvTimeout(5 * time.Millisecond))
	t.Cleanup(func() { _ = local.Close() })

	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	stack, err := NewStack(cfg, local,
		WithLog(zaptest.NewLogger(t).Sugar()),
		WithClock(clock),
	)
	require.NoError(t, err)

	return &stackFixture{stack: stack, host: host, clock: clock}
}

// inject sends a frame from the host and lets the stack process it.
func (f *stackFixture) inject(t *testing.T, lyrs ...gopacket.SerializableLayer) {
	t.Helper()

	require.NoError(t, f.host.Send(xpacket.Serialize(t, lyrs...)))
	ok, err := f.stack.Poll()
	require.NoError(t, err)
	require.True(t, ok)
}

// receive returns the next frame the stack emitted towards the host.
func (f *stackFixture) receive(t *testing.T) gopacket.Packet {
	t.Helper()

	rx := make([]byte, 2048)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := f.host.Recv(rx)
		require.NoError(t, err)
		if n > 0 {
			return xpacket.ParseEtherPacket(rx[:n])
		}
	}

	t.Fatal("expected a frame from the stack")
	return nil
}

func (f *stackFixture) requireSilent(t *testing.T) {
	t.Helper()

	n, err := f.host.Recv(make([]byte, 2048))
	require.NoError(t, err)
	require.Zero(t, n, "unexpected frame from the stack")
}

func hostEthernet(dst proto.HardwareAddr, etherType layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(hostMAC[:]),
		DstMAC:       net.HardwareAddr(dst[:]),
		EthernetType: etherType,
	}
}

func hostARP(op uint16, targetHW proto.HardwareAddr, targetIP proto.IPv4Addr) *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   hostMAC[:],
		SourceProtAddress: hostIP[:],
		DstHwAddress:      targetHW[:],
		DstProtAddress:    targetIP[:],
	}
}

func hostIPv4(protocol layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       7,
		Protocol: protocol,
		SrcIP:    hostIP[:],
		DstIP:    stackIP[:],
	}
}

// resolveHost makes the stack learn the host through an ARP request and
// drains the reply.
func (f *stackFixture) resolveHost(t *testing.T) {
	t.Helper()

	f.inject(t,
		hostEthernet(proto.BroadcastHardwareAddr, layers.EthernetTypeARP),
		hostARP(layers.ARPRequest, proto.HardwareAddr{}, stackIP),
	)
	f.receive(t)
}

func TestNewStackRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"multicast MAC", func(cfg *Config) { cfg.Interface.MAC = proto.BroadcastHardwareAddr }},
		{"IPv6 address", func(cfg *Config) { cfg.Interface.IP = netip.MustParseAddr("2001:db8::1") }},
		{"MTU not aligned", func(cfg *Config) { cfg.Interface.MTU = 1499 }},
		{"MTU too large", func(cfg *Config) { cfg.Interface.MTU = 9000 }},
		{"outside host prefix", func(cfg *Config) { cfg.Interface.IP = netip.MustParseAddr("10.43.0.2") }},
		{"host address", func(cfg *Config) { cfg.Interface.IP = netip.MustParseAddr("10.42.0.1") }},
		{"broadcast address", func(cfg *Config) { cfg.Interface.IP = netip.MustParseAddr("10.42.0.255") }},
		{"zero TTL", func(cfg *Config) { cfg.ARP.TTL = 0 }},
		{"small rx buffer", func(cfg *Config) { cfg.Device.RxBufferSize = 100 }},
		{"duplicate echo port", func(cfg *Config) { cfg.UDP.EchoPorts = []uint16{7, 7} }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(cfg)

			local, _ := device.NewPipe()
			_, err := NewStack(cfg, local)
			require.Error(t, err)
		})
	}
}

func TestStackAnswersARPRequest(t *testing.T) {
	f := newStackFixture(t)

	f.inject(t,
		hostEthernet(proto.BroadcastHardwareAddr, layers.EthernetTypeARP),
		hostARP(layers.ARPRequest, proto.HardwareAddr{}, stackIP),
	)

	pkt := f.receive(t)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, net.HardwareAddr(hostMAC[:]), eth.DstMAC)
	require.Equal(t, net.HardwareAddr(stackMAC[:]), eth.SrcMAC)
	require.Len(t, pkt.Data(), 60)

	reply := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.Equal(t, uint16(layers.ARPReply), reply.Operation)
	require.Equal(t, stackMAC[:], reply.SourceHwAddress)
	require.Equal(t, stackIP[:], reply.SourceProtAddress)
	require.Equal(t, hostMAC[:], reply.DstHwAddress)
	require.Equal(t, hostIP[:], reply.DstProtAddress)

	require.Equal(t, arp.StateResolved, f.stack.State(hostIP))
	require.Equal(t, []arp.Entry{{Addr: hostIP, HardwareAddr: hostMAC, UpdatedAt: f.clock.Now()}}, f.stack.Neighbours())
}

func TestStackIgnoresARPForOtherHosts(t *testing.T) {
	f := newStackFixture(t)

	f.inject(t,
		hostEthernet(proto.BroadcastHardwareAddr, layers.EthernetTypeARP),
		hostARP(layers.ARPRequest, proto.HardwareAddr{}, proto.MustParseIPv4Addr("10.42.0.3")),
	)
	f.requireSilent(t)
}

func TestStackResolvesBeforeSending(t *testing.T) {
	f := newStackFixture(t)

	require.Equal(t, 1, f.stack.SendDatagram([]byte("first"), hostIP, proto.IPProtocol(253)))
	require.Equal(t, arp.StateAwaitingReply, f.stack.State(hostIP))

	pkt := f.receive(t)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, layers.EthernetBroadcast, eth.DstMAC)
	request := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.Equal(t, uint16(layers.ARPRequest), request.Operation)
	require.Equal(t, make([]byte, 6), request.DstHwAddress)
	require.Equal(t, hostIP[:], request.DstProtAddress)

	// Only one packet is buffered per destination.
	f.stack.SendDatagram([]byte("second"), hostIP, proto.IPProtocol(253))
	f.requireSilent(t)

	f.inject(t,
		hostEthernet(stackMAC, layers.EthernetTypeARP),
		hostARP(layers.ARPReply, stackMAC, stackIP),
	)
	require.Equal(t, arp.StateResolved, f.stack.State(hostIP))

	pkt = f.receive(t)
	eth = pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, net.HardwareAddr(hostMAC[:]), eth.DstMAC)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.Equal(t, []byte("first"), ip.Payload)
	f.requireSilent(t)
}

func TestStackRepeatsRequestAfterInterval(t *testing.T) {
	f := newStackFixture(t)

	f.stack.SendDatagram([]byte("first"), hostIP, proto.IPProtocol(253))
	f.receive(t)

	f.clock.Advance(time.Second)
	f.stack.SendDatagram([]byte("second"), hostIP, proto.IPProtocol(253))
	request := f.receive(t).Layer(layers.LayerTypeARP).(*layers.ARP)
	require.Equal(t, hostIP[:], request.DstProtAddress)

	f.inject(t,
		hostEthernet(stackMAC, layers.EthernetTypeARP),
		hostARP(layers.ARPReply, stackMAC, stackIP),
	)

	// The later send took over the pending slot.
	ip := f.receive(t).Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.Equal(t, []byte("second"), ip.Payload)
	f.requireSilent(t)
}

func TestStackHostRequestFlushesPending(t *testing.T) {
	f := newStackFixture(t)

	f.stack.SendDatagram([]byte("held"), hostIP, proto.IPProtocol(253))
	f.receive(t)

	f.inject(t,
		hostEthernet(proto.BroadcastHardwareAddr, layers.EthernetTypeARP),
		hostARP(layers.ARPRequest, proto.HardwareAddr{}, stackIP),
	)

	// The reply to the host comes first, then the buffered datagram.
	reply := f.receive(t).Layer(layers.LayerTypeARP).(*layers.ARP)
	require.Equal(t, uint16(layers.ARPReply), reply.Operation)
	ip := f.receive(t).Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.Equal(t, []byte("held"), ip.Payload)
	require.Equal(t, arp.StateResolved, f.stack.State(hostIP))
	f.requireSilent(t)
}

func TestStackEntryExpires(t *testing.T) {
	f := newStackFixture(t)
	f.resolveHost(t)

	f.clock.Advance(arp.DefaultTTL)
	require.Equal(t, arp.StateUnresolved, f.stack.State(hostIP))
	require.Empty(t, f.stack.Neighbours())
}

func TestStackFragmentsLargeDatagram(t *testing.T) {
	f := newStackFixture(t)
	f.resolveHost(t)

	payload := make([]byte, 3000)
	for idx := range payload {
		payload[idx] = byte(idx)
	}
	require.Equal(t, 3, f.stack.SendDatagram(payload, hostIP, proto.IPProtocol(253)))

	type fragment struct {
		Offset uint16
		More   bool
		Size   int
	}

	var got []fragment
	var reassembled []byte
	for range 3 {
		ip := f.receive(t).Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		require.Equal(t, stackIP[:], []byte(ip.SrcIP.To4()))
		require.Equal(t, hostIP[:], []byte(ip.DstIP.To4()))
		require.Equal(t, uint8(64), ip.TTL)
		got = append(got, fragment{
			Offset: ip.FragOffset,
			More:   ip.Flags&layers.IPv4MoreFragments != 0,
			Size:   len(ip.Payload),
		})
		reassembled = append(reassembled, ip.Payload...)
	}
	f.requireSilent(t)

	expected := []fragment{
		{Offset: 0, More: true, Size: 1480},
		{Offset: 185, More: true, Size: 1480},
		{Offset: 370, More: false, Size: 40},
	}
	require.Empty(t, cmp.Diff(expected, got))
	require.Equal(t, payload, reassembled)
}

func TestStackAnswersPing(t *testing.T) {
	f := newStackFixture(t)
	f.resolveHost(t)

	f.inject(t,
		hostEthernet(stackMAC, layers.EthernetTypeIPv4),
		hostIPv4(layers.IPProtocolICMPv4),
		&layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       1,
			Seq:      2,
		},
		gopacket.Payload([]byte("ping")),
	)

	pkt := f.receive(t)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.Equal(t, hostIP[:], []byte(ip.DstIP.To4()))
	echo := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.Equal(t, uint8(layers.ICMPv4TypeEchoReply), echo.TypeCode.Type())
	require.Equal(t, uint16(1), echo.Id)
	require.Equal(t, uint16(2), echo.Seq)
	require.Equal(t, []byte("ping"), echo.Payload)
}

func TestStackUDPEcho(t *testing.T) {
	f := newStackFixture(t)
	f.resolveHost(t)

	ip := hostIPv4(layers.IPProtocolUDP)
	datagram := &layers.UDP{SrcPort: 40000, DstPort: 7}
	require.NoError(t, datagram.SetNetworkLayerForChecksum(ip))
	f.inject(t,
		hostEthernet(stackMAC, layers.EthernetTypeIPv4),
		ip,
		datagram,
		gopacket.Payload([]byte("echo me")),
	)

	pkt := f.receive(t)
	reply := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.Equal(t, layers.UDPPort(7), reply.SrcPort)
	require.Equal(t, layers.UDPPort(40000), reply.DstPort)
	require.Equal(t, []byte("echo me"), reply.Payload)
}

func TestStackUDPHandler(t *testing.T) {
	f := newStackFixture(t)
	f.resolveHost(t)

	var got []string
	require.NoError(t, f.stack.OpenUDP(9000, udp.HandlerFunc(func(w udp.ResponseWriter, d *udp.Datagram) {
		got = append(got, string(d.Payload))
		require.NoError(t, w.Reply([]byte("ack")))
	})))
	require.Error(t, f.stack.OpenUDP(9000, udp.Echo))

	ip := hostIPv4(layers.IPProtocolUDP)
	datagram := &layers.UDP{SrcPort: 40000, DstPort: 9000}
	require.NoError(t, datagram.SetNetworkLayerForChecksum(ip))
	f.inject(t, hostEthernet(stackMAC, layers.EthernetTypeIPv4), ip, datagram, gopacket.Payload([]byte("hello")))

	require.Equal(t, []string{"hello"}, got)
	require.Equal(t, []byte("ack"), f.receive(t).Layer(layers.LayerTypeUDP).(*layers.UDP).Payload)

	f.stack.CloseUDP(9000)
	n, err := f.stack.SendUDP([]byte("bye"), 9000, hostIP, 40000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []byte("bye"), f.receive(t).Layer(layers.LayerTypeUDP).(*layers.UDP).Payload)
}

func TestStackPortUnreachable(t *testing.T) {
	f := newStackFixture(t)
	f.resolveHost(t)

	ip := hostIPv4(layers.IPProtocolUDP)
	datagram := &layers.UDP{SrcPort: 40000, DstPort: 9999}
	require.NoError(t, datagram.SetNetworkLayerForChecksum(ip))
	original := xpacket.Serialize(t, ip, datagram, gopacket.Payload([]byte("nobody listens")))
	f.inject(t, hostEthernet(stackMAC, layers.EthernetTypeIPv4), gopacket.Payload(original))

	msg := f.receive(t).Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.Equal(t, uint8(layers.ICMPv4TypeDestinationUnreachable), msg.TypeCode.Type())
	require.Equal(t, uint8(layers.ICMPv4CodePort), msg.TypeCode.Code())
	require.Equal(t, original[:28], []byte(msg.Payload))
}

func TestStackProtocolUnreachable(t *testing.T) {
	f := newStackFixture(t)
	f.resolveHost(t)

	f.inject(t,
		hostEthernet(stackMAC, layers.EthernetTypeIPv4),
		hostIPv4(layers.IPProtocolTCP),
		gopacket.Payload([]byte("not a real segment")),
	)

	msg := f.receive(t).Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.Equal(t, uint8(layers.ICMPv4CodeProtocol), msg.TypeCode.Code())
}

func TestStackRunAnnouncesAndStops(t *testing.T) {
	f := newStackFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.stack.Run(ctx)
	}()

	pkt := f.receive(t)
	announce := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.Equal(t, uint16(layers.ARPRequest), announce.Operation)
	require.Equal(t, stackIP[:], announce.SourceProtAddress)
	require.Equal(t, stackIP[:], announce.DstProtAddress)

	// The running stack answers requests.
	require.NoError(t, f.host.Send(xpacket.Serialize(t,
		hostEthernet(proto.BroadcastHardwareAddr, layers.EthernetTypeARP),
		hostARP(layers.ARPRequest, proto.HardwareAddr{}, stackIP),
	)))
	require.Eventually(t, func() bool {
		return f.stack.State(hostIP) == arp.StateResolved
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("stack did not stop")
	}
}
