package spoofer

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"linktap/internal/arpcache"
	"linktap/internal/logging"
	"linktap/internal/metrics"
	"linktap/internal/models"
	"linktap/internal/sniffer"
)

// CacheBuilder learns IP to MAC bindings from every ARP frame it sees.
type CacheBuilder struct {
	Cache   *arpcache.Cache
	Metrics *metrics.Metrics

	mu     sync.RWMutex
	ignore map[string]struct{}
	log    *logrus.Entry
}

// NewCacheBuilder creates a builder filling cache. Frames sent from any of the
// ignored hardware addresses are never learned.
func NewCacheBuilder(cache *arpcache.Cache, ignore ...net.HardwareAddr) *CacheBuilder {
	b := &CacheBuilder{
		Cache:  cache,
		ignore: make(map[string]struct{}),
		log:    logging.WithComponent("cachebuilder"),
	}
	for _, hw := range ignore {
		b.Ignore(hw)
	}
	return b
}

// Ignore adds hw to the ignore set.
func (b *CacheBuilder) Ignore(hw net.HardwareAddr) {
	if len(hw) == 0 {
		return
	}
	b.mu.Lock()
	b.ignore[hw.String()] = struct{}{}
	b.mu.Unlock()
}

func (b *CacheBuilder) ignored(hw net.HardwareAddr) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ignore[hw.String()]
	return ok
}

// Start ignores the sniffer's own hardware address so this host is never
// learned and therefore never poisoned. Without that address the builder
// would learn its own spoofed replies, so Start fails instead.
func (b *CacheBuilder) Start(s *sniffer.Sniffer) error {
	if s.Interface() == "" || s.Resolver() == nil {
		return nil
	}
	hw, err := s.Resolver().HardwareAddr(s.Interface())
	if err != nil {
		return fmt.Errorf("cachebuilder: %w", err)
	}
	b.Ignore(hw)
	return nil
}

// Process records the Ethernet source of an ARP frame against the ARP sender
// protocol address.
func (b *CacheBuilder) Process(f *models.Frame) {
	eth := f.Ethernet()
	arp := f.ARP()
	if eth == nil || arp == nil {
		return
	}

	src := eth.SrcMAC
	if len(src) != 6 || bytes.Equal(src, models.ZeroMAC) || bytes.Equal(src, models.BroadcastMAC) {
		return
	}
	if b.ignored(src) {
		return
	}

	ip := net.IP(arp.SourceProtAddress)
	if len(ip) != net.IPv4len || ip.Equal(net.IPv4zero) {
		return
	}

	if prev, ok := b.Cache.Get(ip); !ok || !bytes.Equal(prev, src) {
		b.log.WithFields(logrus.Fields{"ip": ip.String(), "mac": src.String()}).Debug("learned binding")
	}
	b.Cache.Set(ip, src)
	b.Metrics.CacheUpdated()
}

// Stop is a no-op.
func (b *CacheBuilder) Stop() {}
