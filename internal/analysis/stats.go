// Package analysis keeps running traffic statistics and flags anomalies in
// the frames seen by the sniffer.
package analysis

import (
	"sort"
	"sync"
	"time"

	"linktap/internal/models"
	"linktap/internal/sniffer"
)

// IPStat holds stats for a single IP.
type IPStat struct {
	IP    string `json:"ip"`
	Bytes int    `json:"bytes"`
}

// ProtocolStat holds stats for a single protocol.
type ProtocolStat struct {
	Protocol string `json:"protocol"`
	Count    int64  `json:"count"`
}

// ServiceStat holds stats for a single transport service.
type ServiceStat struct {
	Service string `json:"service"`
	Count   int64  `json:"count"`
}

// DomainEntry represents a captured domain name with metadata.
type DomainEntry struct {
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "DNS" or "mDNS"
}

// Snapshot is a point-in-time copy of the statistics.
type Snapshot struct {
	TotalBytes   int64          `json:"total_bytes"`
	TotalPackets int64          `json:"total_packets"`
	TopTalkers   []IPStat       `json:"top_talkers"`
	Protocols    []ProtocolStat `json:"protocols"`
	Services     []ServiceStat  `json:"services"`
	Domains      []DomainEntry  `json:"domains"`
	Alerts       []Alert        `json:"alerts"`
}

// TrafficStats tracks network statistics.
type TrafficStats struct {
	mu             sync.Mutex
	totalBytes     int64
	totalPackets   int64
	windowBytes    int64
	windowPackets  int64
	lastTick       time.Time
	ipBytes        map[string]int
	protocolCounts map[string]int64
	serviceCounts  map[string]int64

	domainLog    []DomainEntry
	maxDomainLog int
	domains      map[string]DomainEntry // first sighting per hostname

	anomalyDetector *AnomalyDetector
}

// NewTrafficStats creates a TrafficStats with the default detector settings.
func NewTrafficStats() *TrafficStats {
	return NewTrafficStatsWithConfig(DefaultConfig())
}

// NewTrafficStatsWithConfig creates a TrafficStats with the given detector
// settings.
func NewTrafficStatsWithConfig(cfg Config) *TrafficStats {
	return &TrafficStats{
		lastTick:        time.Now(),
		ipBytes:         make(map[string]int),
		protocolCounts:  make(map[string]int64),
		serviceCounts:   make(map[string]int64),
		maxDomainLog:    50,
		domains:         make(map[string]DomainEntry),
		anomalyDetector: NewAnomalyDetector(cfg),
	}
}

// ProcessPacket updates stats with a new packet.
func (s *TrafficStats) ProcessPacket(pkt models.PacketData) {
	s.mu.Lock()
	s.totalBytes += int64(pkt.Length)
	s.totalPackets++
	s.windowBytes += int64(pkt.Length)
	s.windowPackets++

	if pkt.SrcIP != "" {
		s.ipBytes[pkt.SrcIP] += pkt.Length
	}

	proto := pkt.Protocol
	if proto == "" {
		proto = "Unknown"
	}
	s.protocolCounts[proto]++

	if (proto == "TCP" || proto == "UDP") && (pkt.SrcPort != 0 || pkt.DstPort != 0) {
		s.serviceCounts[serviceOf(pkt.SrcPort, pkt.DstPort)]++
	}

	if pkt.Hostname != "" {
		source := "DNS"
		if pkt.SrcPort == 5353 || pkt.DstPort == 5353 {
			source = "mDNS"
		}
		entry := DomainEntry{
			Hostname:  pkt.Hostname,
			Timestamp: pkt.Timestamp,
			Source:    source,
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		s.domainLog = append(s.domainLog, entry)
		if len(s.domainLog) > s.maxDomainLog {
			s.domainLog = s.domainLog[len(s.domainLog)-s.maxDomainLog:]
		}
		if _, seen := s.domains[entry.Hostname]; !seen {
			s.domains[entry.Hostname] = entry
		}
	}
	s.mu.Unlock()

	// The detector has its own mutex.
	s.anomalyDetector.ProcessPacket(pkt)
}

// GetRates returns the bandwidth (bps) and packet rate (pps) since the last call.
func (s *TrafficStats) GetRates() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration := now.Sub(s.lastTick).Seconds()
	if duration == 0 {
		return 0, 0
	}

	bps := (float64(s.windowBytes) * 8) / duration
	pps := float64(s.windowPackets) / duration

	s.windowBytes = 0
	s.windowPackets = 0
	s.lastTick = now

	return bps, pps
}

// GetTotalDataTransferred returns the number of bytes seen this session.
func (s *TrafficStats) GetTotalDataTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// GetTotalPackets returns the number of frames seen this session.
func (s *TrafficStats) GetTotalPackets() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPackets
}

// GetTopTalkers returns the top N source IPs by volume.
func (s *TrafficStats) GetTopTalkers(limit int) []IPStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]IPStat, 0, len(s.ipBytes))
	for ip, bytes := range s.ipBytes {
		stats = append(stats, IPStat{IP: ip, Bytes: bytes})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Bytes != stats[j].Bytes {
			return stats[i].Bytes > stats[j].Bytes
		}
		return stats[i].IP < stats[j].IP
	})

	if len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

// GetProtocolStats returns the protocol distribution, busiest first.
func (s *TrafficStats) GetProtocolStats() []ProtocolStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]ProtocolStat, 0, len(s.protocolCounts))
	for proto, count := range s.protocolCounts {
		stats = append(stats, ProtocolStat{Protocol: proto, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Protocol < stats[j].Protocol
	})
	return stats
}

// GetServiceStats returns the TCP/UDP service distribution, busiest first.
func (s *TrafficStats) GetServiceStats() []ServiceStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]ServiceStat, 0, len(s.serviceCounts))
	for svc, count := range s.serviceCounts {
		stats = append(stats, ServiceStat{Service: svc, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Service < stats[j].Service
	})
	return stats
}

// GetDomainLog returns the most recent domain sightings.
func (s *TrafficStats) GetDomainLog() []DomainEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]DomainEntry, len(s.domainLog))
	copy(result, s.domainLog)
	return result
}

// GetAllDomains returns every distinct hostname with its first sighting, in
// order of first appearance.
func (s *TrafficStats) GetAllDomains() []DomainEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]DomainEntry, 0, len(s.domains))
	for _, d := range s.domains {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].Hostname < result[j].Hostname
	})
	return result
}

// GetAlerts returns the five most recent alerts.
func (s *TrafficStats) GetAlerts() []Alert {
	return s.anomalyDetector.GetRecentAlerts(5)
}

// GetAllAlerts returns every alert raised this session.
func (s *TrafficStats) GetAllAlerts() []Alert {
	return s.anomalyDetector.GetAllAlerts()
}

// Snapshot copies the current statistics, keeping limit top talkers.
func (s *TrafficStats) Snapshot(limit int) Snapshot {
	return Snapshot{
		TotalBytes:   s.GetTotalDataTransferred(),
		TotalPackets: s.GetTotalPackets(),
		TopTalkers:   s.GetTopTalkers(limit),
		Protocols:    s.GetProtocolStats(),
		Services:     s.GetServiceStats(),
		Domains:      s.GetAllDomains(),
		Alerts:       s.GetAllAlerts(),
	}
}

// Module feeds every captured frame into a TrafficStats.
type Module struct {
	sniffer.BaseModule
	Stats *TrafficStats
}

// NewModule creates a module updating stats.
func NewModule(stats *TrafficStats) *Module {
	return &Module{Stats: stats}
}

// Process summarizes and records one frame.
func (m *Module) Process(f *models.Frame) {
	m.Stats.ProcessPacket(models.Summarize(f))
}
