package dashboard

import (
	"net"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udpterm/internal/protocol"
	"udpterm/internal/registry"
	"udpterm/internal/session"
)

func addSession(t *testing.T, reg *registry.Registry, output string) *session.Handle {
	t.Helper()
	id, err := protocol.NewSessionID()
	require.NoError(t, err)
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	h := session.NewHandle(id, peer, make(chan []byte, 1), nil)
	h.History = session.NewHistory(1024)
	_, _ = h.History.Write([]byte(output))
	require.NoError(t, reg.Insert(id, h))
	return h
}

func TestTail(t *testing.T) {
	in := "one\r\ntwo\r\n\x1b[31mthree\x1b[0m\r\nfour\r\n"
	assert.Equal(t, "three\nfour", Tail(in, 2, 80))
	assert.Equal(t, "one\ntwo\nthree\nfour", Tail(in, 10, 80))
	assert.Equal(t, "thr", Tail("three", 1, 3))
	assert.Equal(t, "", Tail("", 3, 80))
}

func TestModel_EmptyRegistry(t *testing.T) {
	m := NewModel(registry.New(), 0)
	view := m.View()
	assert.Contains(t, view, "0 session(s)")
	assert.Contains(t, view, "waiting for clients")
}

func TestModel_PanelsPerSession(t *testing.T) {
	reg := registry.New()
	a := addSession(t, reg, "$ echo alpha\r\nalpha\r\n")
	b := addSession(t, reg, "\x1b[1mbravo\x1b[0m\r\n")

	m := NewModel(reg, time.Second)
	view := ansi.Strip(m.View())

	assert.Contains(t, view, "2 session(s)")
	assert.Contains(t, view, a.ID.Short())
	assert.Contains(t, view, b.ID.Short())
	assert.Contains(t, view, "alpha")
	assert.Contains(t, view, "bravo")
	assert.Contains(t, view, "127.0.0.1:40000")
	assert.NotContains(t, m.View(), "\x1b[1mbravo")
}

func TestModel_TickPicksUpNewSessions(t *testing.T) {
	reg := registry.New()
	m := NewModel(reg, time.Second)
	assert.Contains(t, m.View(), "0 session(s)")

	h := addSession(t, reg, "late\n")
	next, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd, "tick should schedule the next tick")

	view := ansi.Strip(next.View())
	assert.Contains(t, view, "1 session(s)")
	assert.Contains(t, view, h.ID.Short())
	assert.Contains(t, view, "late")
}

func TestModel_WindowSize(t *testing.T) {
	reg := registry.New()
	addSession(t, reg, strings.Repeat("x", 200)+"\n")

	next, cmd := NewModel(reg, 0).Update(tea.WindowSizeMsg{Width: 40, Height: 10})
	assert.Nil(t, cmd)
	for _, line := range strings.Split(next.View(), "\n") {
		assert.LessOrEqual(t, ansi.StringWidth(line), 40, "line too wide: %q", line)
	}
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(nil, 0)
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	} {
		_, cmd := m.Update(key)
		require.NotNil(t, cmd, key.String())
		assert.IsType(t, tea.QuitMsg{}, cmd(), key.String())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	assert.Nil(t, cmd)
}
