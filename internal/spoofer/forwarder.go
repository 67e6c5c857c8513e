package spoofer

import (
	"bytes"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"linktap/internal/arpcache"
	"linktap/internal/capture"
	"linktap/internal/logging"
	"linktap/internal/metrics"
	"linktap/internal/models"
	"linktap/internal/sniffer"
)

// Filter inspects or rewrites an intercepted frame before it is relayed.
// Returning nil drops the frame. The frame is a private copy whose destination
// MAC already points at the real recipient; its source MAC is still the
// original sender's.
type Filter func(f *models.Frame) *models.Frame

// Forwarder relays frames that poisoned peers sent to this host on to the
// hardware address actually owning their destination IP.
type Forwarder struct {
	Cache       *arpcache.Cache
	Filter      Filter
	Iface       string
	HWAddr      net.HardwareAddr
	Transmitter capture.Transmitter
	Metrics     *metrics.Metrics

	log *logrus.Entry
}

// NewForwarder creates a forwarder relaying with the bindings in cache.
func NewForwarder(cache *arpcache.Cache, filter Filter) *Forwarder {
	return &Forwarder{Cache: cache, Filter: filter}
}

// Start fills in the interface, hardware address and transmitter from the
// sniffer when they were not configured.
func (fw *Forwarder) Start(s *sniffer.Sniffer) error {
	fw.log = logging.WithComponent("forwarder")
	if fw.Iface == "" {
		fw.Iface = s.Interface()
	}
	if fw.Transmitter == nil {
		fw.Transmitter = s.Transmitter()
	}
	if fw.HWAddr == nil {
		hw, err := s.Resolver().HardwareAddr(fw.Iface)
		if err != nil {
			return fmt.Errorf("forwarder: %w", err)
		}
		fw.HWAddr = hw
	}
	fw.log = fw.log.WithFields(logrus.Fields{"iface": fw.Iface, "mac": fw.HWAddr.String()})
	return nil
}

// Process relays f if it was addressed to this host at the link layer by
// another host and its IP destination has a known owner.
func (fw *Forwarder) Process(f *models.Frame) {
	out := fw.retarget(f)
	if out == nil {
		return
	}

	if fw.Filter != nil {
		out = fw.Filter(out)
		if out == nil {
			fw.Metrics.Suppressed()
			return
		}
	}

	if err := out.SetEthSrc(fw.HWAddr); err != nil {
		return
	}
	if err := fw.Transmitter.Transmit(fw.Iface, out); err != nil {
		fw.Metrics.TransmitFailed("forwarder")
		if fw.log != nil {
			fw.log.WithError(err).Debug("relay failed")
		}
		return
	}
	fw.Metrics.Forwarded()
}

// retarget returns a copy of f with its destination MAC set to the cached
// owner of its destination IP, or nil when f is not to be relayed.
func (fw *Forwarder) retarget(f *models.Frame) *models.Frame {
	if fw.HWAddr == nil || fw.Transmitter == nil {
		return nil
	}
	eth := f.Ethernet()
	if eth == nil {
		return nil
	}
	if !bytes.Equal(eth.DstMAC, fw.HWAddr) || bytes.Equal(eth.SrcMAC, fw.HWAddr) {
		return nil
	}
	dst := f.DstIP()
	if dst == nil {
		return nil
	}
	hw, ok := fw.Cache.Get(dst)
	if !ok {
		return nil
	}

	out := f.Clone()
	if err := out.SetEthDst(hw); err != nil {
		return nil
	}
	return out
}

// Stop is a no-op.
func (fw *Forwarder) Stop() {}
