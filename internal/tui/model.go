// Package tui renders a live dashboard of traffic statistics and the learned
// ARP cache.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"linktap/internal/analysis"
	"linktap/internal/arpcache"
)

// RefreshInterval is how often the dashboard polls its sources.
const RefreshInterval = 250 * time.Millisecond

// TickMsg triggers a refresh.
type TickMsg time.Time

// Model is the dashboard state.
type Model struct {
	stats         *analysis.TrafficStats
	cache         *arpcache.Cache
	interfaceName string
	status        string

	bps        float64
	pps        float64
	topTalkers []analysis.IPStat
	protocols  []analysis.ProtocolStat
	services   []analysis.ServiceStat
	domainLog  []analysis.DomainEntry
	alerts     []analysis.Alert
	cacheSize  int

	talkers table.Model
	hosts   table.Model
}

// NewModel creates a dashboard for iface. status is shown in the header, e.g.
// the poisoning targets; cache may be nil.
func NewModel(stats *analysis.TrafficStats, cache *arpcache.Cache, iface, status string) Model {
	talkers := newTable([]table.Column{
		{Title: "Source IP", Width: 20},
		{Title: "Bytes", Width: 15},
	})
	hosts := newTable([]table.Column{
		{Title: "IP", Width: 16},
		{Title: "MAC", Width: 19},
	})

	return Model{
		stats:         stats,
		cache:         cache,
		interfaceName: iface,
		status:        status,
		talkers:       talkers,
		hosts:         hosts,
	}
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
