// Package dashboard renders live server sessions as a terminal UI: one
// bordered panel per session showing the tail of its output.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"udpterm/internal/registry"
	"udpterm/internal/session"
)

// DefaultRefresh is how often the panels are redrawn.
const DefaultRefresh = 500 * time.Millisecond

// minPanelHeight keeps at least a title and one line of output per
// panel, even with many sessions on a short terminal.
const minPanelHeight = 4

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63"))
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))
	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

// Model is the bubbletea model for the dashboard.
type Model struct {
	registry *registry.Registry
	refresh  time.Duration
	width    int
	height   int
	handles  []*session.Handle
	now      time.Time
}

// NewModel returns a dashboard over reg.  A zero refresh uses
// DefaultRefresh.
func NewModel(reg *registry.Registry, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	m := Model{registry: reg, refresh: refresh, width: 80, height: 24}
	return m.snapshot(time.Now())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd { return m.tick() }

// Update handles key presses, resizes and refresh ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m.snapshot(time.Time(msg)), m.tick()
	}
	return m, nil
}

// snapshot copies the registry's handles, oldest session first.
func (m Model) snapshot(now time.Time) Model {
	m.now = now
	if m.registry == nil {
		m.handles = nil
		return m
	}
	hs := m.registry.Handles()
	sort.Slice(hs, func(i, j int) bool { return hs[i].Created.Before(hs[j].Created) })
	m.handles = hs
	return m
}

// View renders a status line and one panel per session.
func (m Model) View() string {
	status := statusStyle.Render(fmt.Sprintf("%d session(s)  q: quit", len(m.handles)))
	if len(m.handles) == 0 {
		return status + "\n\n" + statusStyle.Render("waiting for clients...") + "\n"
	}

	// Split the screen evenly, minus the status line.
	avail := m.height - 1
	per := avail / len(m.handles)
	if per < minPanelHeight {
		per = minPanelHeight
	}
	// Two border rows plus the title row.
	bodyLines := per - 3
	if bodyLines < 1 {
		bodyLines = 1
	}
	inner := m.width - 2
	if inner < 10 {
		inner = 10
	}

	panels := make([]string, 0, len(m.handles))
	for _, h := range m.handles {
		panels = append(panels, m.panel(h, inner, bodyLines))
	}
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{status}, panels...)...)
}

func (m Model) panel(h *session.Handle, width, lines int) string {
	title := titleStyle.Render(h.ID.Short())
	if h.Peer != nil {
		title += " " + peerStyle.Render(h.Peer.String())
	}
	if !m.now.IsZero() {
		title += " " + peerStyle.Render(m.now.Sub(h.Created).Truncate(time.Second).String())
	}

	var out []byte
	if h.History != nil {
		out = h.History.Bytes()
	}
	body := Tail(string(out), lines, width)
	return panelStyle.Width(width).Render(title + "\n" + body)
}

// Tail returns the last n lines of s with escape sequences stripped and
// every line truncated to width cells.  Carriage returns are dropped so
// CRLF output from a terminal renders as plain lines.
func Tail(s string, n, width int) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = ansi.Truncate(l, width, "")
	}
	return strings.Join(lines, "\n")
}

// Run shows the dashboard until the user quits or ctx is cancelled.
// Quitting returns nil; cancellation returns ctx.Err().
func Run(ctx context.Context, reg *registry.Registry, refresh time.Duration) error {
	program := tea.NewProgram(NewModel(reg, refresh), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
