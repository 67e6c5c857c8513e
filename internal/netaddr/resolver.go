// Package netaddr resolves this host's own interface addressing and expands
// address sets used to select poisoning targets.
package netaddr

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// ErrNoIPv4 is returned when an interface has no IPv4 address.
var ErrNoIPv4 = errors.New("no IPv4 address found on interface")

// Resolver looks up this host's own addressing on an interface.
type Resolver interface {
	HardwareAddr(iface string) (net.HardwareAddr, error)
	IPNet(iface string) (*net.IPNet, error)
}

// NetlinkResolver queries the kernel over netlink.
type NetlinkResolver struct{}

// HardwareAddr returns the MAC address of iface.
func (NetlinkResolver) HardwareAddr(iface string) (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", iface, err)
	}
	hw := link.Attrs().HardwareAddr
	if len(hw) == 0 {
		return nil, fmt.Errorf("interface %s has no hardware address", iface)
	}
	return hw, nil
}

// IPNet returns the first IPv4 address of iface together with its prefix.
func (NetlinkResolver) IPNet(iface string) (*net.IPNet, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", iface, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("could not get interface addresses: %w", err)
	}
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		if ip4 := addr.IPNet.IP.To4(); ip4 != nil {
			return &net.IPNet{IP: ip4, Mask: addr.IPNet.Mask}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", iface, ErrNoIPv4)
}

// StaticResolver answers from fixed values. Fields left unset fall back to
// Fallback when it is non-nil.
type StaticResolver struct {
	HW       net.HardwareAddr
	Net      *net.IPNet
	Fallback Resolver
}

// HardwareAddr returns the configured MAC.
func (r StaticResolver) HardwareAddr(iface string) (net.HardwareAddr, error) {
	if r.HW != nil {
		return r.HW, nil
	}
	if r.Fallback != nil {
		return r.Fallback.HardwareAddr(iface)
	}
	return nil, fmt.Errorf("no hardware address configured for %s", iface)
}

// IPNet returns the configured address and prefix.
func (r StaticResolver) IPNet(iface string) (*net.IPNet, error) {
	if r.Net != nil {
		return r.Net, nil
	}
	if r.Fallback != nil {
		return r.Fallback.IPNet(iface)
	}
	return nil, fmt.Errorf("%s: %w", iface, ErrNoIPv4)
}

// MustParseIPNet parses an "ip/prefix" string keeping the host part, or panics.
func MustParseIPNet(s string) *net.IPNet {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	ipnet.IP = ip.To4()
	return ipnet
}
