package filter

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"

	"linktap/internal/logging"
	"linktap/internal/models"
	"linktap/internal/spoofer"
)

// DNSRewrite returns a filter that replaces the A records of intercepted DNS
// responses for the given names. A response is rewritten when either the
// record owner or the question name is overridden. Other frames, and frames
// that fail to parse, pass through unchanged.
func DNSRewrite(overrides map[string]net.IP) spoofer.Filter {
	table := make(map[string]net.IP, len(overrides))
	for name, ip := range overrides {
		if v4 := ip.To4(); v4 != nil {
			table[dns.Fqdn(strings.ToLower(name))] = v4
		}
	}
	log := logging.WithComponent("dns-rewrite")

	return func(f *models.Frame) *models.Frame {
		out, err := rewriteDNS(f, table)
		if err != nil {
			log.WithError(err).Debug("leaving frame untouched")
			return f
		}
		if out == nil {
			return f
		}
		return out
	}
}

// rewriteDNS returns the rewritten frame, or nil when nothing changed.
func rewriteDNS(f *models.Frame, table map[string]net.IP) (*models.Frame, error) {
	if len(table) == 0 {
		return nil, nil
	}
	pkt := f.Packet()
	if pkt.Layer(layers.LayerTypeDot1Q) != nil {
		return nil, nil
	}
	eth := f.Ethernet()
	ip := f.IPv4()
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if eth == nil || ip == nil || udpLayer == nil {
		return nil, nil
	}
	udp := udpLayer.(*layers.UDP)
	if udp.SrcPort != 53 {
		return nil, nil
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(udp.Payload); err != nil {
		return nil, fmt.Errorf("failed to parse dns message: %w", err)
	}
	if !msg.Response {
		return nil, nil
	}

	var question net.IP
	if len(msg.Question) > 0 {
		question = table[strings.ToLower(msg.Question[0].Name)]
	}

	changed := false
	for _, rr := range msg.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		target, ok := table[strings.ToLower(a.Hdr.Name)]
		if !ok {
			target = question
		}
		if target == nil || a.A.Equal(target) {
			continue
		}
		a.A = target
		changed = true
	}
	if !changed {
		return nil, nil
	}

	payload, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("failed to pack dns message: %w", err)
	}

	ethOut, ipOut, udpOut := *eth, *ip, *udp
	if err := udpOut.SetNetworkLayerForChecksum(&ipOut); err != nil {
		return nil, err
	}
	out, err := models.BuildFrame(&ethOut, &ipOut, &udpOut, gopacket.Payload(payload))
	if err != nil {
		return nil, err
	}
	out.Timestamp = f.Timestamp
	return out, nil
}
