package arp

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/ylink/netstack/proto"
)

var (
	localHW  = proto.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	localIP  = proto.MustParseIPv4Addr("10.42.0.2")
	remoteHW = proto.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	remoteIP = proto.MustParseIPv4Addr("10.42.0.1")
)

func TestMessageRoundTrip(t *testing.T) {
	req := NewRequest(localHW, localIP, remoteIP)
	data, err := req.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, MessageLen)

	parsed, err := ParseMessage(data)
	require.NoError(t, err)
	require.Equal(t, req, parsed)
}

func TestMessageDecodesWithGopacket(t *testing.T) {
	req := NewRequest(localHW, localIP, remoteIP)
	reply := NewReply(remoteHW, remoteIP, req)

	data, err := reply.MarshalBinary()
	require.NoError(t, err)

	pkt := gopacket.NewPacket(data, layers.LayerTypeARP, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.True(t, ok)
	require.Equal(t, layers.LinkTypeEthernet, arp.AddrType)
	require.Equal(t, layers.EthernetTypeIPv4, arp.Protocol)
	require.Equal(t, uint8(6), arp.HwAddressSize)
	require.Equal(t, uint8(4), arp.ProtAddressSize)
	require.Equal(t, uint16(layers.ARPReply), arp.Operation)
	require.Equal(t, net.HardwareAddr(remoteHW[:]), net.HardwareAddr(arp.SourceHwAddress))
	require.Equal(t, remoteIP[:], arp.SourceProtAddress)
	require.Equal(t, net.HardwareAddr(localHW[:]), net.HardwareAddr(arp.DstHwAddress))
	require.Equal(t, localIP[:], arp.DstProtAddress)
}

func TestParseMessageIgnoresPadding(t *testing.T) {
	data, err := NewRequest(localHW, localIP, remoteIP).MarshalBinary()
	require.NoError(t, err)
	data = append(data, make([]byte, 18)...)

	_, err = ParseMessage(data)
	require.NoError(t, err)
}

func TestParseMessageMalformed(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{
			name:   "short",
			mutate: func(b []byte) []byte { return b[:MessageLen-1] },
		},
		{
			name:   "hardware type",
			mutate: func(b []byte) []byte { b[1] = 6; return b },
		},
		{
			name:   "protocol type",
			mutate: func(b []byte) []byte { b[2], b[3] = 0x86, 0xdd; return b },
		},
		{
			name:   "hardware length",
			mutate: func(b []byte) []byte { b[4] = 8; return b },
		},
		{
			name:   "protocol length",
			mutate: func(b []byte) []byte { b[5] = 16; return b },
		},
		{
			name:   "opcode",
			mutate: func(b []byte) []byte { b[7] = 3; return b },
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, err := NewRequest(localHW, localIP, remoteIP).MarshalBinary()
			require.NoError(t, err)

			_, err = ParseMessage(c.mutate(data))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}
