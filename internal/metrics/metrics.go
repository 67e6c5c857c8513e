// Package metrics exposes Prometheus collectors for the capture engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"linktap/internal/models"
	"linktap/internal/sniffer"
)

// Metrics holds all capture engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	FramesCaptured   prometheus.Counter
	BytesCaptured    prometheus.Counter
	FramesForwarded  prometheus.Counter
	FramesSuppressed prometheus.Counter
	PoisonFrames     prometheus.Counter
	ProbeFrames      prometheus.Counter
	TransmitErrors   *prometheus.CounterVec
	CaptureErrors    prometheus.Counter
	CacheUpdates     prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collectors and registers them, plus gauges backed by the
// given callbacks, on a fresh registry. Nil callbacks are skipped.
func New(cacheSize, activeModules func() float64) *Metrics {
	m := &Metrics{
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_frames_captured_total",
			Help: "Total number of frames captured",
		}),
		BytesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_bytes_captured_total",
			Help: "Total number of bytes captured",
		}),
		FramesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_frames_forwarded_total",
			Help: "Total number of intercepted frames relayed to their real destination",
		}),
		FramesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_frames_suppressed_total",
			Help: "Total number of intercepted frames dropped by a forwarding filter",
		}),
		PoisonFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_poison_frames_total",
			Help: "Total number of spoofed ARP replies sent",
		}),
		ProbeFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_probe_frames_total",
			Help: "Total number of ARP who-has probes sent",
		}),
		TransmitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linktap_transmit_errors_total",
			Help: "Total number of failed transmissions",
		}, []string{"component"}),
		CaptureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_capture_errors_total",
			Help: "Total number of capture loops ended by a capture error",
		}),
		CacheUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linktap_arp_cache_updates_total",
			Help: "Total number of ARP cache upserts",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesCaptured,
		m.BytesCaptured,
		m.FramesForwarded,
		m.FramesSuppressed,
		m.PoisonFrames,
		m.ProbeFrames,
		m.TransmitErrors,
		m.CaptureErrors,
		m.CacheUpdates,
	)
	if cacheSize != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "linktap_arp_cache_entries",
			Help: "Number of IP to MAC bindings in the ARP cache",
		}, cacheSize))
	}
	if activeModules != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "linktap_modules_active",
			Help: "Number of started sniffer modules",
		}, activeModules))
	}
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Forwarded records a relayed frame.
func (m *Metrics) Forwarded() {
	if m != nil {
		m.FramesForwarded.Inc()
	}
}

// Suppressed records a frame dropped by a filter.
func (m *Metrics) Suppressed() {
	if m != nil {
		m.FramesSuppressed.Inc()
	}
}

// Poisoned records n spoofed replies.
func (m *Metrics) Poisoned(n int) {
	if m != nil {
		m.PoisonFrames.Add(float64(n))
	}
}

// Probed records n who-has probes.
func (m *Metrics) Probed(n int) {
	if m != nil {
		m.ProbeFrames.Add(float64(n))
	}
}

// TransmitFailed records a failed transmission by component.
func (m *Metrics) TransmitFailed(component string) {
	if m != nil {
		m.TransmitErrors.WithLabelValues(component).Inc()
	}
}

// CaptureFailed records a capture loop that ended with an error.
func (m *Metrics) CaptureFailed() {
	if m != nil {
		m.CaptureErrors.Inc()
	}
}

// CacheUpdated records an ARP cache upsert.
func (m *Metrics) CacheUpdated() {
	if m != nil {
		m.CacheUpdates.Inc()
	}
}

// Module counts captured frames and bytes.
type Module struct {
	sniffer.BaseModule
	Metrics *Metrics
}

// Process counts one frame.
func (mod *Module) Process(f *models.Frame) {
	if mod.Metrics == nil {
		return
	}
	mod.Metrics.FramesCaptured.Inc()
	mod.Metrics.BytesCaptured.Add(float64(f.Len()))
}
