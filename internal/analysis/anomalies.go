package analysis

import (
	"fmt"
	"sync"
	"time"

	"linktap/internal/models"
)

// AnomalyType represents the type of anomaly detected.
type AnomalyType string

const (
	AnomalyBroadcastStorm AnomalyType = "BROADCAST_STORM"
	AnomalyUnsecure       AnomalyType = "UNSECURE_PROTOCOL"
	AnomalyDoS            AnomalyType = "POSSIBLE_DOS"
	AnomalyARPConflict    AnomalyType = "ARP_CONFLICT"
)

// Config holds configuration for the anomaly detector.
type Config struct {
	BroadcastThreshold int           `yaml:"broadcast_threshold"` // Broadcasts per second
	DoSThreshold       int           `yaml:"dos_threshold"`       // Packets per second per IP
	UnsecureCooldown   time.Duration `yaml:"unsecure_cooldown"`   // Cooldown for unsecure protocol alerts
	ConflictCooldown   time.Duration `yaml:"conflict_cooldown"`   // Cooldown per IP for ARP conflict alerts
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`    // Interval for memory cleanup
	DataRetention      time.Duration `yaml:"data_retention"`      // How long to keep tracking data
	MaxRecent          int           `yaml:"max_recent"`          // Alerts kept for the live view
	MaxHistory         int           `yaml:"max_history"`         // Alerts kept for the session report
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BroadcastThreshold: 50,
		DoSThreshold:       500,
		UnsecureCooldown:   10 * time.Second,
		ConflictCooldown:   30 * time.Second,
		CleanupInterval:    1 * time.Minute,
		DataRetention:      5 * time.Minute,
		MaxRecent:          20,
		MaxHistory:         1000,
	}
}

// Alert represents a detected anomaly.
type Alert struct {
	Type      AnomalyType `json:"type"`
	Source    string      `json:"source"`  // IP or source identifier
	Message   string      `json:"message"` // Human-readable description
	Timestamp time.Time   `json:"timestamp"`
}

// AnomalyDetector monitors traffic for suspicious patterns.
type AnomalyDetector struct {
	mu sync.Mutex

	config Config

	broadcastCount  int
	broadcastWindow time.Time

	unsecureAlerts map[string]time.Time // "IP:port" -> last alert time

	ipPacketCount map[string]int
	ipWindow      map[string]time.Time

	// ARP bindings as announced on the wire, and the last conflict alert per IP.
	arpBindings    map[string]string
	conflictAlerts map[string]time.Time

	alerts  []Alert
	history []Alert

	lastCleanup time.Time
	now         func() time.Time
}

// NewAnomalyDetector creates a new anomaly detection engine.
func NewAnomalyDetector(cfg Config) *AnomalyDetector {
	def := DefaultConfig()
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = def.MaxRecent
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	return &AnomalyDetector{
		config:         cfg,
		unsecureAlerts: make(map[string]time.Time),
		ipPacketCount:  make(map[string]int),
		ipWindow:       make(map[string]time.Time),
		arpBindings:    make(map[string]string),
		conflictAlerts: make(map[string]time.Time),
		lastCleanup:    time.Now(),
		now:            time.Now,
	}
}

// ProcessPacket analyzes a packet for anomalies.
func (ad *AnomalyDetector) ProcessPacket(pkt models.PacketData) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	now := ad.now()

	if now.Sub(ad.lastCleanup) > ad.config.CleanupInterval {
		ad.cleanup(now)
		ad.lastCleanup = now
	}

	ad.detectBroadcastStorm(pkt, now)
	ad.detectUnsecureProtocol(pkt, now)
	ad.detectDoS(pkt, now)
	ad.detectARPConflict(pkt, now)
}

// cleanup drops tracking state older than the retention period.
func (ad *AnomalyDetector) cleanup(now time.Time) {
	for key, lastAlert := range ad.unsecureAlerts {
		if now.Sub(lastAlert) > ad.config.DataRetention {
			delete(ad.unsecureAlerts, key)
		}
	}
	for ip, windowStart := range ad.ipWindow {
		if now.Sub(windowStart) > ad.config.DataRetention {
			delete(ad.ipWindow, ip)
			delete(ad.ipPacketCount, ip)
		}
	}
	for ip, lastAlert := range ad.conflictAlerts {
		if now.Sub(lastAlert) > ad.config.DataRetention {
			delete(ad.conflictAlerts, ip)
		}
	}
}

func (ad *AnomalyDetector) detectBroadcastStorm(pkt models.PacketData, now time.Time) {
	if pkt.EthDst != "ff:ff:ff:ff:ff:ff" {
		return
	}
	if now.Sub(ad.broadcastWindow) > time.Second {
		ad.broadcastCount = 0
		ad.broadcastWindow = now
	}
	ad.broadcastCount++

	if ad.broadcastCount > ad.config.BroadcastThreshold {
		ad.addAlert(Alert{
			Type:      AnomalyBroadcastStorm,
			Source:    "Network",
			Message:   fmt.Sprintf("Broadcast storm detected: %d broadcasts in 1 second", ad.broadcastCount),
			Timestamp: now,
		})
		ad.broadcastCount = 0
		ad.broadcastWindow = now
	}
}

var unsecurePorts = map[int]string{
	80: "HTTP",
	21: "FTP",
	23: "Telnet",
}

func (ad *AnomalyDetector) detectUnsecureProtocol(pkt models.PacketData, now time.Time) {
	protocolName, isUnsecure := unsecurePorts[pkt.DstPort]
	if !isUnsecure || pkt.Protocol != "TCP" {
		return
	}
	// At most one alert per IP/port per cooldown.
	key := fmt.Sprintf("%s:%d", pkt.SrcIP, pkt.DstPort)
	lastAlert, exists := ad.unsecureAlerts[key]
	if exists && now.Sub(lastAlert) <= ad.config.UnsecureCooldown {
		return
	}
	ad.addAlert(Alert{
		Type:      AnomalyUnsecure,
		Source:    pkt.SrcIP,
		Message:   fmt.Sprintf("Plaintext %s traffic on port %d from %s", protocolName, pkt.DstPort, pkt.SrcIP),
		Timestamp: now,
	})
	ad.unsecureAlerts[key] = now
}

func (ad *AnomalyDetector) detectDoS(pkt models.PacketData, now time.Time) {
	if pkt.SrcIP == "" {
		return
	}
	if _, exists := ad.ipWindow[pkt.SrcIP]; !exists {
		ad.ipWindow[pkt.SrcIP] = now
		ad.ipPacketCount[pkt.SrcIP] = 0
	}
	if now.Sub(ad.ipWindow[pkt.SrcIP]) > time.Second {
		ad.ipPacketCount[pkt.SrcIP] = 0
		ad.ipWindow[pkt.SrcIP] = now
	}
	ad.ipPacketCount[pkt.SrcIP]++

	if ad.ipPacketCount[pkt.SrcIP] > ad.config.DoSThreshold {
		ad.addAlert(Alert{
			Type:      AnomalyDoS,
			Source:    pkt.SrcIP,
			Message:   fmt.Sprintf("High packet rate from %s: %d pps", pkt.SrcIP, ad.ipPacketCount[pkt.SrcIP]),
			Timestamp: now,
		})
		ad.ipPacketCount[pkt.SrcIP] = 0
		ad.ipWindow[pkt.SrcIP] = now
	}
}

// detectARPConflict flags an IP announced by a different MAC than before,
// which is what poisoning (ours or someone else's) looks like on the wire.
func (ad *AnomalyDetector) detectARPConflict(pkt models.PacketData, now time.Time) {
	if pkt.ARPSenderIP == "" || pkt.ARPSenderIP == "0.0.0.0" || pkt.ARPSenderMAC == "" {
		return
	}
	prev, known := ad.arpBindings[pkt.ARPSenderIP]
	ad.arpBindings[pkt.ARPSenderIP] = pkt.ARPSenderMAC
	if !known || prev == pkt.ARPSenderMAC {
		return
	}

	lastAlert, exists := ad.conflictAlerts[pkt.ARPSenderIP]
	if exists && now.Sub(lastAlert) <= ad.config.ConflictCooldown {
		return
	}
	ad.addAlert(Alert{
		Type:      AnomalyARPConflict,
		Source:    pkt.ARPSenderIP,
		Message:   fmt.Sprintf("%s moved from %s to %s", pkt.ARPSenderIP, prev, pkt.ARPSenderMAC),
		Timestamp: now,
	})
	ad.conflictAlerts[pkt.ARPSenderIP] = now
}

// addAlert appends to both the bounded live view and the session history.
func (ad *AnomalyDetector) addAlert(alert Alert) {
	ad.alerts = append(ad.alerts, alert)
	if len(ad.alerts) > ad.config.MaxRecent {
		ad.alerts = ad.alerts[len(ad.alerts)-ad.config.MaxRecent:]
	}
	ad.history = append(ad.history, alert)
	if len(ad.history) > ad.config.MaxHistory {
		ad.history = ad.history[len(ad.history)-ad.config.MaxHistory:]
	}
}

// GetRecentAlerts returns up to limit of the newest alerts, oldest first.
func (ad *AnomalyDetector) GetRecentAlerts(limit int) []Alert {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	start := 0
	if limit >= 0 && len(ad.alerts) > limit {
		start = len(ad.alerts) - limit
	}
	result := make([]Alert, len(ad.alerts)-start)
	copy(result, ad.alerts[start:])
	return result
}

// GetAllAlerts returns the session's alert history, oldest first.
func (ad *AnomalyDetector) GetAllAlerts() []Alert {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	result := make([]Alert, len(ad.history))
	copy(result, ad.history)
	return result
}
