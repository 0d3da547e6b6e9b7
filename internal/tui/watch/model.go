package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/venhook/internal/events"
	"github.com/mattjoyce/venhook/internal/receiver"
)

const maxRows = 200

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	baseURL string
	token   string

	width  int
	height int

	health    receiver.HealthzResponse
	connected bool
	counts    map[string]int
	kinds     map[string]int
	rows      []table.Row
	table     table.Model

	theme     Theme
	hubEvents chan events.Event
	lastID    *int64
	lastError string
}

// New creates a watch model for the receiver at baseURL. token is sent as a
// bearer token when the receiver protects /events.
func New(baseURL, token string) *Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	return &Model{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		counts:    make(map[string]int),
		kinds:     make(map[string]int),
		table:     t,
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
		lastID:    new(int64),
	}
}

func columns(width int) []table.Column {
	// Time, type, source and kind are fixed; recipient takes what is left.
	fixed := []table.Column{
		{Title: "Time", Width: 8},
		{Title: "Event", Width: 10},
		{Title: "Source", Width: 8},
		{Title: "Kind", Width: 11},
		{Title: "Status", Width: 18},
		{Title: "Campaign", Width: 10},
	}
	used := 0
	for _, c := range fixed {
		used += c.Width + 2
	}
	recipient := width - used - 6
	if recipient < 12 {
		recipient = 12
	}
	return append(fixed, table.Column{Title: "Recipient", Width: recipient})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.baseURL, m.token, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.baseURL) },
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		if h := msg.Height - 12; h > 3 {
			m.table.SetHeight(h)
		}

	case eventMsg:
		m.record(events.Event(msg))
		m.connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = receiver.HealthzResponse(msg)
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.baseURL)
		})

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.baseURL, m.token, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.baseURL)
		})
	}

	return m, nil
}

// record adds ev to the table (newest first) and the running totals.
func (m *Model) record(ev events.Event) {
	var n receiver.Notice
	_ = json.Unmarshal(ev.Data, &n)

	label := strings.TrimPrefix(ev.Type, "webhook.")
	m.counts[label]++
	if ev.Type == events.TypeReceived && n.Kind != "" {
		m.kinds[string(n.Kind)]++
	}

	status := ""
	if n.Delivery != nil {
		status = n.Delivery.Status
	}
	if n.Error != "" {
		status = n.Error
	}
	recipient := n.Recipient
	if n.LargeAttachments {
		recipient += " [large attachment]"
	}

	row := table.Row{
		ev.At.Local().Format("15:04:05"),
		label,
		n.Source,
		string(n.Kind),
		status,
		n.CampaignID,
		recipient,
	}
	m.rows = append([]table.Row{row}, m.rows...)
	if len(m.rows) > maxRows {
		m.rows = m.rows[:maxRows]
	}
	m.table.SetRows(m.rows)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to receiver..."
	}
	innerWidth := m.width - 4

	conn := m.theme.Accepted.Render("● connected")
	if !m.connected {
		conn = m.theme.Failed.Render("● disconnected")
	}
	header := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("VENHOOK WATCH")+" "+m.theme.Dim.Render(m.baseURL)+"  "+conn,
		m.theme.Dim.Render(fmt.Sprintf(" uptime %s  subscribers %d  signed %t  inbound %t",
			time.Duration(m.health.UptimeSeconds)*time.Second,
			m.health.EventSubscribers,
			m.health.SignedWebhooks,
			m.health.InboundEnabled,
		)),
		" "+m.renderCounts(),
	)

	parts := []string{
		m.theme.Border.Width(innerWidth).Render(header),
		m.theme.Border.Width(innerWidth).Render(m.table.View()),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderCounts() string {
	var parts []string
	for _, t := range []string{events.TypeReceived, events.TypeDuplicate, events.TypeRejected, events.TypeFailed} {
		label := strings.TrimPrefix(t, "webhook.")
		parts = append(parts, m.theme.ForType(t).Render(fmt.Sprintf("%s %d", label, m.counts[label])))
	}

	kinds := make([]string, 0, len(m.kinds))
	for k := range m.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		parts = append(parts, m.theme.Highlight.Render(fmt.Sprintf("%s:%d", k, m.kinds[k])))
	}
	return strings.Join(parts, "  ")
}
