// Package reporting writes end-of-session reports.
package reporting

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linktap/internal/analysis"
	"linktap/internal/arpcache"
)

// Report is the machine-readable session report.
type Report struct {
	Generated time.Time         `json:"generated"`
	Stats     analysis.Snapshot `json:"stats"`
	Cache     []cacheEntry      `json:"arp_cache"`
}

type cacheEntry struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// GenerateSessionReport writes a report of the session into dir (the working
// directory when empty) and returns its path. Supported formats are "html"
// and "json". cache may be nil.
func GenerateSessionReport(stats *analysis.TrafficStats, cache *arpcache.Cache, format, dir string) (string, error) {
	var ext string
	switch format {
	case "html", "json":
		ext = format
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}

	now := time.Now()
	timestamp := now.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("report_%s.%s", timestamp, ext))

	var entries []cacheEntry
	if cache != nil {
		for _, e := range cache.Snapshot() {
			entries = append(entries, cacheEntry{IP: e.IP.String(), MAC: e.MAC.String()})
		}
	}

	var content []byte
	if format == "json" {
		b, err := json.MarshalIndent(Report{Generated: now, Stats: stats.Snapshot(10), Cache: entries}, "", "  ")
		if err != nil {
			return "", err
		}
		content = b
	} else {
		content = []byte(renderHTML(stats, entries, now, timestamp))
	}

	if err := os.WriteFile(filename, content, 0644); err != nil {
		return "", err
	}
	return filename, nil
}

func renderHTML(stats *analysis.TrafficStats, entries []cacheEntry, now time.Time, timestamp string) string {
	esc := html.EscapeString
	totalBytes := stats.GetTotalDataTransferred()
	totalPackets := stats.GetTotalPackets()
	domains := stats.GetAllDomains()
	alerts := stats.GetAllAlerts()
	topTalkers := stats.GetTopTalkers(10)
	protocols := stats.GetProtocolStats()

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>linktap Session Report - %s</title>
    <style>
        body { font-family: sans-serif; margin: 20px; color: #333; }
        h1, h2 { color: #2c3e50; }
        table { width: 100%%; border-collapse: collapse; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .summary { background: #eef; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
        .alert { color: #d9534f; font-weight: bold; }
        code { font-family: monospace; }
    </style>
</head>
<body>
    <h1>linktap Session Report</h1>
    <div class="summary">
        <p><strong>Date:</strong> %s</p>
        <p><strong>Total Data Transferred:</strong> %s</p>
        <p><strong>Total Frames:</strong> %d</p>
        <p><strong>ARP Bindings Learned:</strong> %d</p>
    </div>
`, timestamp, now.Format(time.RFC1123), formatBytes(totalBytes), totalPackets, len(entries))

	b.WriteString(tableHead("Top 10 Talkers", "IP Address", "Data Transferred (Bytes)"))
	if len(topTalkers) == 0 {
		b.WriteString(emptyRow(2, "No IPv4 traffic captured."))
	}
	for _, talker := range topTalkers {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%d</td></tr>\n", esc(talker.IP), talker.Bytes)
	}
	b.WriteString(tableTail)

	b.WriteString(tableHead("Protocol Distribution", "Protocol", "Frames"))
	for _, p := range protocols {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%d</td></tr>\n", esc(p.Protocol), p.Count)
	}
	b.WriteString(tableTail)

	b.WriteString(tableHead("ARP Cache", "IP Address", "MAC Address"))
	if len(entries) == 0 {
		b.WriteString(emptyRow(2, "No ARP bindings learned."))
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td><code>%s</code></td></tr>\n", esc(e.IP), esc(e.MAC))
	}
	b.WriteString(tableTail)

	b.WriteString(tableHead("Security Alerts", "Time", "Type", "Source", "Message"))
	if len(alerts) == 0 {
		b.WriteString(emptyRow(4, "No alerts triggered during this session."))
	}
	for _, alert := range alerts {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td class=\"alert\">%s</td><td>%s</td><td>%s</td></tr>\n",
			alert.Timestamp.Format("15:04:05"), esc(string(alert.Type)), esc(alert.Source), esc(alert.Message))
	}
	b.WriteString(tableTail)

	b.WriteString(tableHead("Domain History (Unique Domains)", "Time First Seen", "Hostname", "Source"))
	if len(domains) == 0 {
		b.WriteString(emptyRow(3, "No domains captured."))
	}
	for _, domain := range domains {
		fmt.Fprintf(&b, "            <tr><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			domain.Timestamp.Format("15:04:05"), esc(domain.Hostname), esc(domain.Source))
	}
	b.WriteString(tableTail)

	b.WriteString("</body>\n</html>")
	return b.String()
}

const tableTail = `        </tbody>
    </table>
`

func tableHead(title string, columns ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n    <h2>%s</h2>\n    <table>\n        <thead>\n            <tr>\n", title)
	for _, c := range columns {
		fmt.Fprintf(&b, "                <th>%s</th>\n", c)
	}
	b.WriteString("            </tr>\n        </thead>\n        <tbody>\n")
	return b.String()
}

func emptyRow(span int, msg string) string {
	return fmt.Sprintf("            <tr><td colspan=\"%d\">%s</td></tr>\n", span, msg)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
