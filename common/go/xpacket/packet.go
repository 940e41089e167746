// Package xpacket builds and decodes reference frames with gopacket for
// tests.
package xpacket

import (
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var serializeOptions = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Serialize encodes layers with lengths and checksums fixed up.
func Serialize(t testing.TB, lyrs ...gopacket.SerializableLayer) []byte {
	t.Helper()

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, serializeOptions, lyrs...))

	return append([]byte(nil), buf.Bytes()...)
}

// ParseEtherPacket decodes an Ethernet frame.
func ParseEtherPacket(data []byte) gopacket.Packet {
	// Pad the packet with zero bytes to align its size at 60 bytes
	// https://github.com/google/gopacket/issues/361
	if len(data) < 60 {
		var zeros [60]byte
		data = append(data, zeros[:60-len(data)]...)
	}

	return gopacket.NewPacket(
		data,
		layers.LayerTypeEthernet,
		gopacket.Default,
	)
}

// ParseIPv4 decodes a bare IPv4 packet and returns its network layer.
func ParseIPv4(t testing.TB, data []byte) *layers.IPv4 {
	t.Helper()

	pkt := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok, "not an IPv4 packet: %v", pkt.ErrorLayer())

	return ip
}
