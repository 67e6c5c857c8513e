package netaddr

import (
	"bytes"
	"fmt"
	"net"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SubnetKeyword selects every host of the interface's own subnet.
const SubnetKeyword = "subnet"

// DefaultMaxHosts caps how many addresses a single expansion may produce.
const DefaultMaxHosts = 4096

// AddrSet is a set of IPv4 addresses given as literal IPs, CIDR blocks, or the
// symbolic local subnet. It is expanded against the current interface
// configuration every time it is used.
type AddrSet struct {
	ips    []net.IP
	nets   []*net.IPNet
	subnet bool
}

// ParseAddrSet parses IPs, CIDRs and the "subnet" keyword.
func ParseAddrSet(values ...string) (AddrSet, error) {
	var s AddrSet
	for _, raw := range values {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			switch {
			case v == "":
			case strings.EqualFold(v, SubnetKeyword):
				s.subnet = true
			case strings.Contains(v, "/"):
				_, ipnet, err := net.ParseCIDR(v)
				if err != nil || ipnet.IP.To4() == nil {
					return AddrSet{}, fmt.Errorf("invalid IPv4 network %q", v)
				}
				ipnet.IP = ipnet.IP.To4()
				s.nets = append(s.nets, ipnet)
			default:
				ip := net.ParseIP(v).To4()
				if ip == nil {
					return AddrSet{}, fmt.Errorf("invalid IPv4 address %q", v)
				}
				s.ips = append(s.ips, ip)
			}
		}
	}
	return s, nil
}

// MustParseAddrSet is ParseAddrSet that panics on error.
func MustParseAddrSet(values ...string) AddrSet {
	s, err := ParseAddrSet(values...)
	if err != nil {
		panic(err)
	}
	return s
}

// Subnet returns the set covering the local subnet.
func Subnet() AddrSet { return AddrSet{subnet: true} }

// IsZero reports whether the set selects nothing.
func (s AddrSet) IsZero() bool {
	return !s.subnet && len(s.ips) == 0 && len(s.nets) == 0
}

// IsSubnet reports whether the set includes the symbolic local subnet.
func (s AddrSet) IsSubnet() bool { return s.subnet }

// Union returns a set selecting the members of both sets.
func (s AddrSet) Union(o AddrSet) AddrSet {
	return AddrSet{
		ips:    append(append([]net.IP{}, s.ips...), o.ips...),
		nets:   append(append([]*net.IPNet{}, s.nets...), o.nets...),
		subnet: s.subnet || o.subnet,
	}
}

// Contains reports whether ip is a member of the set. local is the
// interface's own network and may be nil when the set is not symbolic.
func (s AddrSet) Contains(ip net.IP, local *net.IPNet) bool {
	ip = ip.To4()
	if ip == nil {
		return false
	}
	if s.subnet && local != nil && local.Contains(ip) {
		return true
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	for _, m := range s.ips {
		if m.Equal(ip) {
			return true
		}
	}
	return false
}

// Expand enumerates the concrete addresses of the set in ascending order,
// without duplicates. Network and broadcast addresses of CIDR blocks and of the
// local subnet are skipped. At most maxHosts addresses are returned; a
// non-positive maxHosts disables the cap.
func (s AddrSet) Expand(local *net.IPNet, maxHosts int) []net.IP {
	seen := make(map[string]struct{})
	var out []net.IP
	add := func(ip net.IP) {
		k := string(ip)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, ip)
	}

	for _, ip := range s.ips {
		add(ip)
	}
	nets := s.nets
	if s.subnet && local != nil {
		nets = append([]*net.IPNet{local}, nets...)
	}
	for _, n := range nets {
		for _, ip := range Hosts(n, maxHosts) {
			add(ip)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i], out[j]) < 0
	})
	if maxHosts > 0 && len(out) > maxHosts {
		out = out[:maxHosts]
	}
	return out
}

// String renders the set in the form accepted by ParseAddrSet.
func (s AddrSet) String() string {
	var parts []string
	if s.subnet {
		parts = append(parts, SubnetKeyword)
	}
	for _, n := range s.nets {
		parts = append(parts, n.String())
	}
	for _, ip := range s.ips {
		parts = append(parts, ip.String())
	}
	return strings.Join(parts, ",")
}

// UnmarshalYAML accepts a scalar ("subnet", "10.0.0.1,10.0.0.2") or a list.
func (s *AddrSet) UnmarshalYAML(value *yaml.Node) error {
	var values []string
	switch value.Kind {
	case yaml.ScalarNode:
		values = []string{value.Value}
	case yaml.SequenceNode:
		if err := value.Decode(&values); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: address set must be a string or a list", value.Line)
	}
	parsed, err := ParseAddrSet(values...)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = parsed
	return nil
}

// MarshalYAML renders the set as a scalar.
func (s AddrSet) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Hosts enumerates the usable host addresses of an IPv4 network, skipping the
// network and broadcast addresses for prefixes shorter than /31.
func Hosts(n *net.IPNet, maxHosts int) []net.IP {
	base := n.IP.To4()
	if base == nil || len(n.Mask) < 4 {
		return nil
	}
	mask := n.Mask[len(n.Mask)-4:]

	current := make(net.IP, 4)
	broadcast := make(net.IP, 4)
	for i := range current {
		current[i] = base[i] & mask[i]
		broadcast[i] = current[i] | ^mask[i]
	}
	network := make(net.IP, 4)
	copy(network, current)

	ones, _ := net.IPMask(mask).Size()
	edges := ones < 31

	var out []net.IP
	for ; n.Contains(current); inc(current) {
		if maxHosts > 0 && len(out) >= maxHosts {
			break
		}
		if edges && (current.Equal(network) || current.Equal(broadcast)) {
			if current.Equal(broadcast) {
				break
			}
			continue
		}
		ip := make(net.IP, 4)
		copy(ip, current)
		out = append(out, ip)
	}
	return out
}

func inc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
