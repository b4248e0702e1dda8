// Package tui hosts the shared text in a terminal text area.
//
// The bubbletea update loop is the client's single execution context: socket events and timers
// reach it as messages, so the sync controller and the text area are only touched from Update.
package tui

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/osdodo/lansync/pkg/eventloop"
	"github.com/osdodo/lansync/pkg/status"
)

// Controller is the part of the sync controller the widget drives.
type Controller interface {
	Input()
	Paste()
	Blur()
}

// Binding wires the widget to the rest of the client once the program exists.
type Binding struct {
	// Start runs on the update loop before any input is handled.
	Start func(m *Model)
	// Stop runs on the update loop before the program quits.
	Stop func()
}

// runMsg carries a function posted to the update loop.
type runMsg func()

type Model struct {
	// text is the shared text exactly as received or last edited. The text area
	// only holds its encoded form.
	text     string
	area     textarea.Model
	ctrl     Controller
	notifier *status.Notifier
	binding  Binding
	server   string
	width    int
}

func New(server string, binding Binding) *Model {
	area := textarea.New()
	area.Placeholder = "Type here. Everyone connected sees the same text."
	area.ShowLineNumbers = false
	area.CharLimit = 0
	area.MaxHeight = 0
	area.Focus()
	return &Model{area: area, binding: binding, server: server}
}

// Bind attaches the controller and notifier. Call it from Binding.Start.
func (m *Model) Bind(ctrl Controller, notifier *status.Notifier) {
	m.ctrl = ctrl
	m.notifier = notifier
}

func (m *Model) Value() string {
	return m.text
}

func (m *Model) SetValue(text string) {
	m.text = text
	m.area.SetValue(encode(text))
}

// The text area rewrites tabs, carriage returns and other control characters
// on insert. They are carried through it as runes in the supplementary private
// use area instead, offset by escapeBase.
const escapeBase = 0x100000

func escaped(r rune) bool {
	return r != '\n' && (unicode.IsControl(r) || r == utf8.RuneError)
}

func encode(text string) string {
	if strings.IndexFunc(text, escaped) < 0 {
		return text
	}
	return strings.Map(func(r rune) rune {
		if escaped(r) {
			return escapeBase + r
		}
		return r
	}, text)
}

func decode(text string) string {
	return strings.Map(func(r rune) rune {
		if r >= escapeBase && escaped(r-escapeBase) {
			return r - escapeBase
		}
		return r
	}, text)
}

// Scheduler returns a scheduler that runs functions inside p's update loop.
func Scheduler(p *tea.Program) eventloop.Scheduler {
	return eventloop.Dispatcher(func(fn func()) {
		p.Send(runMsg(fn))
	})
}

type startMsg struct{}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, func() tea.Msg { return startMsg{} })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case startMsg:
		if m.binding.Start != nil {
			m.binding.Start(m)
		}
		return m, nil
	case runMsg:
		msg()
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.area.SetWidth(msg.Width)
		m.area.SetHeight(max(msg.Height-3, 1))
		return m, nil
	case tea.BlurMsg:
		m.blur()
		return m, nil
	case tea.FocusMsg:
		return m, m.area.Focus()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.blur()
			if m.binding.Stop != nil {
				m.binding.Stop()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			m.blur()
			return m, nil
		}
		if !m.area.Focused() {
			cmd := m.area.Focus()
			return m, cmd
		}
		before := m.area.Value()
		var cmd tea.Cmd
		m.area, cmd = m.area.Update(msg)
		changed := m.area.Value() != before
		if changed {
			m.text = decode(m.area.Value())
		}
		if m.ctrl != nil {
			if msg.Paste {
				m.ctrl.Paste()
			}
			if changed {
				m.ctrl.Input()
			}
		}
		return m, cmd
	}
	var cmd tea.Cmd
	m.area, cmd = m.area.Update(msg)
	return m, cmd
}

func (m *Model) blur() {
	if !m.area.Focused() {
		return
	}
	m.area.Blur()
	if m.ctrl != nil {
		m.ctrl.Blur()
	}
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	neutralStyle = lipgloss.NewStyle().Faint(true)
	styles       = map[status.Category]lipgloss.Style{
		status.Neutral: neutralStyle,
		status.Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		status.Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		status.Sync:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		status.Offline: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("lansync"))
	b.WriteString(neutralStyle.Render(fmt.Sprintf(" %s", m.server)))
	if m.notifier != nil {
		st := m.notifier.Current()
		if st.Message != "" {
			b.WriteString("  ")
			b.WriteString(styles[st.Category].Render(st.Message))
		}
	}
	b.WriteString("\n")
	b.WriteString(m.area.View())
	b.WriteString("\n")
	b.WriteString(neutralStyle.Render("esc: leave field and send  ctrl+c: send and quit"))
	return b.String()
}
