package spoofer

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"linktap/internal/models"
)

func mac(s string) net.HardwareAddr {
	hw, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return hw
}

func arpFrame(t *testing.T, op uint16, ethSrc net.HardwareAddr, senderIP string) *models.Frame {
	t.Helper()
	f, err := models.NewARPFrame(models.ARPFrame{
		Operation: op,
		EthSrc:    ethSrc,
		EthDst:    models.BroadcastMAC,
		SenderHW:  ethSrc,
		SenderIP:  net.ParseIP(senderIP),
		TargetIP:  net.ParseIP("10.0.0.254"),
	})
	require.NoError(t, err)
	return f
}

func ipFrame(t *testing.T, src, dst net.HardwareAddr, srcIP, dstIP string) *models.Frame {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 6000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	f, err := models.BuildFrame(eth, ip, udp, gopacket.Payload([]byte("payload")))
	require.NoError(t, err)
	return f
}
