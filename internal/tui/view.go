package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF7DB")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Margin(0, 1)

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)
)

func (m Model) View() string {
	headerText := fmt.Sprintf("linktap - %s", m.interfaceName)
	if m.status != "" {
		headerText += fmt.Sprintf(" [%s]", m.status)
	}
	title := titleStyle.Render(headerText)

	qos := fmt.Sprintf("Bandwidth: %s\nPacket Rate: %.2f PPS\nARP bindings: %d", formatBps(m.bps), m.pps, m.cacheSize)
	qosBox := infoStyle.Render(qos)

	var protoStrs []string
	for i := 0; i < len(m.protocols) && i < 5; i++ {
		p := m.protocols[i]
		protoStrs = append(protoStrs, fmt.Sprintf("%s: %d", p.Protocol, p.Count))
	}
	if len(protoStrs) == 0 {
		protoStrs = append(protoStrs, "Waiting for data...")
	}
	protoBox := infoStyle.Render("Protocols:\n" + strings.Join(protoStrs, "\n"))

	var svcStrs []string
	for i := 0; i < len(m.services) && i < 5; i++ {
		s := m.services[i]
		svcStrs = append(svcStrs, fmt.Sprintf("%s: %d", s.Service, s.Count))
	}
	if len(svcStrs) == 0 {
		svcStrs = append(svcStrs, "-")
	}
	svcBox := infoStyle.Render("Services:\n" + strings.Join(svcStrs, "\n"))

	ttBox := infoStyle.Render("Top Talkers\n" + m.talkers.View())
	hostBox := infoStyle.Render("ARP Cache\n" + m.hosts.View())

	var domainStrs []string
	for i := len(m.domainLog) - 1; i >= 0 && len(domainStrs) < 5; i-- {
		d := m.domainLog[i]
		domainStrs = append(domainStrs, fmt.Sprintf("%s %s", d.Timestamp.Format("15:04:05"), d.Hostname))
	}
	if len(domainStrs) == 0 {
		domainStrs = append(domainStrs, "-")
	}
	domainBox := infoStyle.Render("Recent Domains:\n" + strings.Join(domainStrs, "\n"))

	var alertStrs []string
	for _, a := range m.alerts {
		alertStrs = append(alertStrs, alertStyle.Render(string(a.Type))+" "+a.Message)
	}
	if len(alertStrs) == 0 {
		alertStrs = append(alertStrs, "No alerts")
	}
	alertBox := infoStyle.Render("Alerts:\n" + strings.Join(alertStrs, "\n"))

	row1 := lipgloss.JoinHorizontal(lipgloss.Top, qosBox, protoBox, svcBox)
	row2 := lipgloss.JoinHorizontal(lipgloss.Top, ttBox, hostBox)
	row3 := lipgloss.JoinHorizontal(lipgloss.Top, domainBox, alertBox)
	body := lipgloss.JoinVertical(lipgloss.Left, title, row1, row2, row3)

	return body + "\nPress q to quit."
}

func formatBps(bps float64) string {
	if bps >= 1e6 {
		return fmt.Sprintf("%.2f Mbps", bps/1e6)
	}
	if bps >= 1e3 {
		return fmt.Sprintf("%.2f Kbps", bps/1e3)
	}
	return fmt.Sprintf("%.2f bps", bps)
}
