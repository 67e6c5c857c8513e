// Package arpcache holds the IP to hardware address mapping learned from
// observed ARP traffic.
package arpcache

import (
	"bytes"
	"net"
	"net/netip"
	"sort"
	"sync"
)

// Entry is one cached binding.
type Entry struct {
	IP  net.IP
	MAC net.HardwareAddr
}

// Cache maps IPv4/IPv6 addresses to hardware addresses. The most recent Set
// for an address wins. Entries are never evicted.
type Cache struct {
	mu      sync.RWMutex
	entries map[netip.Addr]net.HardwareAddr
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[netip.Addr]net.HardwareAddr)}
}

func key(ip net.IP) (netip.Addr, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Set stores hw for ip, replacing any previous binding.
func (c *Cache) Set(ip net.IP, hw net.HardwareAddr) {
	k, ok := key(ip)
	if !ok {
		return
	}
	c.mu.Lock()
	c.entries[k] = clone(hw)
	c.mu.Unlock()
}

func clone(hw net.HardwareAddr) net.HardwareAddr {
	return net.HardwareAddr(bytes.Clone(hw))
}

// Get returns a copy of the hardware address bound to ip.
func (c *Cache) Get(ip net.IP) (net.HardwareAddr, bool) {
	k, ok := key(ip)
	if !ok {
		return nil, false
	}

	c.mu.RLock()
	hw, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return clone(hw), true
}

// Contains reports whether ip has a binding.
func (c *Cache) Contains(ip net.IP) bool {
	k, ok := key(ip)
	if !ok {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok = c.entries[k]
	return ok
}

// Len returns the number of bindings.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of all bindings ordered by address.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for k, hw := range c.entries {
		out = append(out, Entry{IP: net.IP(k.AsSlice()), MAC: clone(hw)})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].IP) != len(out[j].IP) {
			return len(out[i].IP) < len(out[j].IP)
		}
		return bytes.Compare(out[i].IP, out[j].IP) < 0
	})
	return out
}
