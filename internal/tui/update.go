package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case TickMsg:
		m.refresh()
		return m, tickCmd()
	}

	m.talkers, cmd = m.talkers.Update(msg)
	return m, cmd
}

// refresh pulls fresh numbers from the stats and the cache.
func (m *Model) refresh() {
	m.bps, m.pps = m.stats.GetRates()
	m.topTalkers = m.stats.GetTopTalkers(10)
	m.protocols = m.stats.GetProtocolStats()
	m.services = m.stats.GetServiceStats()
	m.domainLog = m.stats.GetDomainLog()
	m.alerts = m.stats.GetAlerts()

	rows := make([]table.Row, len(m.topTalkers))
	for i, stat := range m.topTalkers {
		rows[i] = table.Row{stat.IP, fmt.Sprintf("%d", stat.Bytes)}
	}
	m.talkers.SetRows(rows)

	if m.cache == nil {
		return
	}
	entries := m.cache.Snapshot()
	m.cacheSize = len(entries)
	hostRows := make([]table.Row, len(entries))
	for i, e := range entries {
		hostRows[i] = table.Row{e.IP.String(), e.MAC.String()}
	}
	m.hosts.SetRows(hostRows)
}
