package metrics

import (
	"net"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linktap/internal/models"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Forwarded()
	m.Suppressed()
	m.Poisoned(3)
	m.Probed(1)
	m.TransmitFailed("poisoner")
	m.CaptureFailed()
	m.CacheUpdated()
	(&Module{}).Process(nil)
}

func TestCounters(t *testing.T) {
	m := New(func() float64 { return 2 }, nil)

	m.Forwarded()
	m.Poisoned(3)
	m.TransmitFailed("forwarder")
	m.TransmitFailed("forwarder")
	m.CaptureFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesForwarded))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PoisonFrames))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransmitErrors.WithLabelValues("forwarder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptureErrors))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "linktap_arp_cache_entries")
	assert.NotContains(t, names, "linktap_modules_active")
}

func TestModuleCountsFrames(t *testing.T) {
	m := New(nil, nil)
	mod := &Module{Metrics: m}

	hw := net.HardwareAddr{2, 0, 0, 0, 0, 1}
	f, err := models.NewARPFrame(models.ARPFrame{
		Operation: layers.ARPRequest,
		EthSrc:    hw,
		EthDst:    models.BroadcastMAC,
		SenderHW:  hw,
		SenderIP:  net.ParseIP("10.0.0.1"),
		TargetIP:  net.ParseIP("10.0.0.2"),
	})
	require.NoError(t, err)

	mod.Process(f)
	mod.Process(f)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesCaptured))
	assert.Equal(t, float64(2*f.Len()), testutil.ToFloat64(m.BytesCaptured))
}
