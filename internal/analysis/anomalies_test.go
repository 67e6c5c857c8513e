package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linktap/internal/models"
)

// fakeClock lets tests step the detector's notion of time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newDetector(cfg Config) (*AnomalyDetector, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	ad := NewAnomalyDetector(cfg)
	ad.now = clock.now
	ad.lastCleanup = clock.t
	return ad, clock
}

func TestBroadcastStorm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BroadcastThreshold = 3
	ad, _ := newDetector(cfg)

	for i := 0; i < 4; i++ {
		ad.ProcessPacket(models.PacketData{EthDst: "ff:ff:ff:ff:ff:ff"})
	}
	alerts := ad.GetRecentAlerts(10)
	require.Len(t, alerts, 1)
	assert.Equal(t, AnomalyBroadcastStorm, alerts[0].Type)
}

func TestUnsecureProtocolCooldown(t *testing.T) {
	ad, clock := newDetector(DefaultConfig())
	pkt := models.PacketData{SrcIP: "10.0.0.5", DstPort: 23, Protocol: "TCP"}

	ad.ProcessPacket(pkt)
	ad.ProcessPacket(pkt)
	assert.Len(t, ad.GetAllAlerts(), 1)

	clock.advance(11 * time.Second)
	ad.ProcessPacket(pkt)
	alerts := ad.GetAllAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, AnomalyUnsecure, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "Telnet")

	// UDP to port 80 is not plaintext HTTP.
	ad.ProcessPacket(models.PacketData{SrcIP: "10.0.0.6", DstPort: 80, Protocol: "UDP"})
	assert.Len(t, ad.GetAllAlerts(), 2)
}

func TestDoS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DoSThreshold = 5
	ad, _ := newDetector(cfg)

	for i := 0; i < 6; i++ {
		ad.ProcessPacket(models.PacketData{SrcIP: "10.0.0.66"})
	}
	alerts := ad.GetAllAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AnomalyDoS, alerts[0].Type)
	assert.Equal(t, "10.0.0.66", alerts[0].Source)
}

func TestARPConflict(t *testing.T) {
	ad, clock := newDetector(DefaultConfig())
	arp := func(ip, mac string) models.PacketData {
		return models.PacketData{Protocol: "ARP", ARPSenderIP: ip, ARPSenderMAC: mac}
	}

	ad.ProcessPacket(arp("10.0.0.5", "aa:aa:aa:aa:aa:aa"))
	ad.ProcessPacket(arp("10.0.0.5", "aa:aa:aa:aa:aa:aa"))
	ad.ProcessPacket(arp("0.0.0.0", "bb:bb:bb:bb:bb:bb"))
	ad.ProcessPacket(arp("0.0.0.0", "cc:cc:cc:cc:cc:cc"))
	assert.Empty(t, ad.GetAllAlerts())

	ad.ProcessPacket(arp("10.0.0.5", "cc:cc:cc:cc:cc:cc"))
	alerts := ad.GetAllAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AnomalyARPConflict, alerts[0].Type)
	assert.Equal(t, "10.0.0.5", alerts[0].Source)
	assert.Contains(t, alerts[0].Message, "aa:aa:aa:aa:aa:aa")
	assert.Contains(t, alerts[0].Message, "cc:cc:cc:cc:cc:cc")

	// Flapping within the cooldown raises nothing new.
	ad.ProcessPacket(arp("10.0.0.5", "aa:aa:aa:aa:aa:aa"))
	assert.Len(t, ad.GetAllAlerts(), 1)

	clock.advance(31 * time.Second)
	ad.ProcessPacket(arp("10.0.0.5", "cc:cc:cc:cc:cc:cc"))
	assert.Len(t, ad.GetAllAlerts(), 2)
}

func TestAlertBuffers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecent = 3
	cfg.MaxHistory = 5
	cfg.UnsecureCooldown = 0
	ad, clock := newDetector(cfg)

	for i := 0; i < 8; i++ {
		clock.advance(time.Millisecond)
		ad.ProcessPacket(models.PacketData{SrcIP: "10.0.0.5", DstPort: 21, Protocol: "TCP"})
	}

	assert.Len(t, ad.GetRecentAlerts(10), 3)
	assert.Len(t, ad.GetRecentAlerts(2), 2)
	assert.Len(t, ad.GetAllAlerts(), 5)
	assert.Empty(t, NewAnomalyDetector(DefaultConfig()).GetRecentAlerts(5))
}

func TestCleanupDropsStaleState(t *testing.T) {
	ad, clock := newDetector(DefaultConfig())
	ad.ProcessPacket(models.PacketData{SrcIP: "10.0.0.5", DstPort: 80, Protocol: "TCP"})
	require.Len(t, ad.ipWindow, 1)

	clock.advance(10 * time.Minute)
	ad.ProcessPacket(models.PacketData{})

	ad.mu.Lock()
	defer ad.mu.Unlock()
	assert.Empty(t, ad.ipWindow)
	assert.Empty(t, ad.unsecureAlerts)
}
