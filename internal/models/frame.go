package models

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// BroadcastMAC is the Ethernet broadcast address.
	BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// ZeroMAC is the all-zero hardware address.
	ZeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}
)

const ethHeaderLen = 14

// Frame is one captured link-layer unit. The raw bytes are owned by the frame
// and decoded eagerly so that concurrent readers never race on lazy decoding.
type Frame struct {
	Timestamp time.Time

	data   []byte
	packet gopacket.Packet
}

// NewFrame copies data and decodes it as an Ethernet frame.
func NewFrame(data []byte, ts time.Time) *Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	f := &Frame{Timestamp: ts, data: buf}
	f.decode()
	return f
}

func (f *Frame) decode() {
	f.packet = gopacket.NewPacket(f.data, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true})
}

// Data returns the raw frame bytes. Callers must not modify them.
func (f *Frame) Data() []byte { return f.data }

// Len returns the frame length in bytes.
func (f *Frame) Len() int { return len(f.data) }

// Packet returns the decoded packet.
func (f *Frame) Packet() gopacket.Packet { return f.packet }

// CaptureInfo returns capture metadata suitable for pcap writers.
func (f *Frame) CaptureInfo() gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     f.Timestamp,
		CaptureLength: len(f.data),
		Length:        len(f.data),
	}
}

// Ethernet returns the Ethernet header, or nil if the frame has none.
func (f *Frame) Ethernet() *layers.Ethernet {
	if l := f.packet.Layer(layers.LayerTypeEthernet); l != nil {
		return l.(*layers.Ethernet)
	}
	return nil
}

// ARP returns the ARP payload, or nil.
func (f *Frame) ARP() *layers.ARP {
	if l := f.packet.Layer(layers.LayerTypeARP); l != nil {
		return l.(*layers.ARP)
	}
	return nil
}

// IPv4 returns the IPv4 header, or nil.
func (f *Frame) IPv4() *layers.IPv4 {
	if l := f.packet.Layer(layers.LayerTypeIPv4); l != nil {
		return l.(*layers.IPv4)
	}
	return nil
}

// EthSrc returns the source hardware address, or nil.
func (f *Frame) EthSrc() net.HardwareAddr {
	if eth := f.Ethernet(); eth != nil {
		return eth.SrcMAC
	}
	return nil
}

// EthDst returns the destination hardware address, or nil.
func (f *Frame) EthDst() net.HardwareAddr {
	if eth := f.Ethernet(); eth != nil {
		return eth.DstMAC
	}
	return nil
}

// SrcIP returns the network-layer source address, or nil.
func (f *Frame) SrcIP() net.IP {
	if nl := f.packet.NetworkLayer(); nl != nil {
		switch ip := nl.(type) {
		case *layers.IPv4:
			return ip.SrcIP
		case *layers.IPv6:
			return ip.SrcIP
		}
	}
	return nil
}

// DstIP returns the network-layer destination address, or nil.
func (f *Frame) DstIP() net.IP {
	if nl := f.packet.NetworkLayer(); nl != nil {
		switch ip := nl.(type) {
		case *layers.IPv4:
			return ip.DstIP
		case *layers.IPv6:
			return ip.DstIP
		}
	}
	return nil
}

// SetEthDst rewrites the destination hardware address in place.
func (f *Frame) SetEthDst(hw net.HardwareAddr) error {
	return f.rewrite(0, hw)
}

// SetEthSrc rewrites the source hardware address in place.
func (f *Frame) SetEthSrc(hw net.HardwareAddr) error {
	return f.rewrite(6, hw)
}

func (f *Frame) rewrite(off int, hw net.HardwareAddr) error {
	if len(hw) != 6 {
		return fmt.Errorf("invalid hardware address %q", hw)
	}
	if len(f.data) < ethHeaderLen {
		return fmt.Errorf("frame too short for ethernet header: %d bytes", len(f.data))
	}
	copy(f.data[off:off+6], hw)
	f.decode()
	return nil
}

// Clone returns a deep copy that can be mutated independently.
func (f *Frame) Clone() *Frame {
	return NewFrame(f.data, f.Timestamp)
}

// Equal reports whether both frames carry identical bytes.
func (f *Frame) Equal(other *Frame) bool {
	return other != nil && bytes.Equal(f.data, other.data)
}

// ARPFrame describes an Ethernet+ARP frame to build.
type ARPFrame struct {
	Operation uint16
	EthSrc    net.HardwareAddr
	EthDst    net.HardwareAddr
	SenderHW  net.HardwareAddr
	SenderIP  net.IP
	TargetHW  net.HardwareAddr
	TargetIP  net.IP
}

// NewARPFrame serializes an Ethernet+ARP frame.
func NewARPFrame(a ARPFrame) (*Frame, error) {
	senderIP := a.SenderIP.To4()
	targetIP := a.TargetIP.To4()
	if senderIP == nil || targetIP == nil {
		return nil, fmt.Errorf("arp frame needs IPv4 addresses, got %v and %v", a.SenderIP, a.TargetIP)
	}
	targetHW := a.TargetHW
	if targetHW == nil {
		targetHW = ZeroMAC
	}

	eth := layers.Ethernet{
		SrcMAC:       a.EthSrc,
		DstMAC:       a.EthDst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         a.Operation,
		SourceHwAddress:   []byte(a.SenderHW),
		SourceProtAddress: []byte(senderIP),
		DstHwAddress:      []byte(targetHW),
		DstProtAddress:    []byte(targetIP),
	}

	return BuildFrame(&eth, &arp)
}

// BuildFrame serializes the given layers, fixing lengths and checksums.
// Transport layers that need a pseudo-header must already have their network
// layer set for checksum computation.
func BuildFrame(ls ...gopacket.SerializableLayer) (*Frame, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return NewFrame(buf.Bytes(), time.Now()), nil
}
