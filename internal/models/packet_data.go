package models

import (
	"net"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

// PacketData holds the extracted information from a network frame.
type PacketData struct {
	Timestamp time.Time
	SrcIP     string
	DstIP     string
	SrcPort   int
	DstPort   int
	Protocol  string
	Length    int

	Hostname string // DNS question name, if any
	EthSrc   string
	EthDst   string // Destination MAC address (for broadcast detection)

	// ARP sender binding, set only for ARP frames.
	ARPSenderIP  string
	ARPSenderMAC string
}

// Summarize flattens a frame into a PacketData record.
func Summarize(f *Frame) PacketData {
	p := PacketData{
		Timestamp: f.Timestamp,
		Length:    f.Len(),
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	if eth := f.Ethernet(); eth != nil {
		p.EthSrc = eth.SrcMAC.String()
		p.EthDst = eth.DstMAC.String()
	}

	if arp := f.ARP(); arp != nil {
		p.Protocol = "ARP"
		p.ARPSenderIP = ipString(arp.SourceProtAddress)
		p.ARPSenderMAC = macString(arp.SourceHwAddress)
		return p
	}

	if ip := f.SrcIP(); ip != nil {
		p.SrcIP = ip.String()
	}
	if ip := f.DstIP(); ip != nil {
		p.DstIP = ip.String()
	}

	pkt := f.Packet()
	switch {
	case pkt.Layer(layers.LayerTypeTCP) != nil:
		tcp := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		p.Protocol = "TCP"
		p.SrcPort = int(tcp.SrcPort)
		p.DstPort = int(tcp.DstPort)
	case pkt.Layer(layers.LayerTypeUDP) != nil:
		udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		p.Protocol = "UDP"
		p.SrcPort = int(udp.SrcPort)
		p.DstPort = int(udp.DstPort)
	case pkt.Layer(layers.LayerTypeICMPv4) != nil:
		p.Protocol = "ICMP"
	case p.SrcIP != "":
		p.Protocol = "OTHER"
	}

	if l := pkt.Layer(layers.LayerTypeDNS); l != nil {
		dns := l.(*layers.DNS)
		if len(dns.Questions) > 0 {
			p.Hostname = strings.TrimSuffix(string(dns.Questions[0].Name), ".")
		}
	}

	return p
}

func ipString(b []byte) string {
	if len(b) != 4 && len(b) != 16 {
		return ""
	}
	return net.IP(b).String()
}

func macString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return net.HardwareAddr(b).String()
}
