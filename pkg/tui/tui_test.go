package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osdodo/lansync/pkg/eventloop/looptest"
	"github.com/osdodo/lansync/pkg/status"
	"github.com/osdodo/lansync/pkg/syncer"
)

type recordingController struct {
	calls []string
}

func (c *recordingController) Input() { c.calls = append(c.calls, "input") }
func (c *recordingController) Paste() { c.calls = append(c.calls, "paste") }
func (c *recordingController) Blur()  { c.calls = append(c.calls, "blur") }

func started(t *testing.T) (*Model, *recordingController, *bool) {
	t.Helper()
	ctrl := &recordingController{}
	stopped := false
	m := New("http://relay:8080", Binding{
		Start: func(m *Model) { m.Bind(ctrl, status.NewNotifier(looptest.New(), 0)) },
		Stop:  func() { stopped = true },
	})
	m.Update(startMsg{})
	return m, ctrl, &stopped
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTypingReportsInput(t *testing.T) {
	m, ctrl, _ := started(t)
	m.Update(keys("h"))
	m.Update(keys("i"))
	assert.Equal(t, "hi", m.Value())
	assert.Equal(t, []string{"input", "input"}, ctrl.calls)
}

func TestPasteReportsPasteThenInput(t *testing.T) {
	m, ctrl, _ := started(t)
	msg := keys("pasted")
	msg.Paste = true
	m.Update(msg)
	assert.Equal(t, "pasted", m.Value())
	assert.Equal(t, []string{"paste", "input"}, ctrl.calls)
}

func TestBlurFlushesOnce(t *testing.T) {
	m, ctrl, _ := started(t)
	m.Update(keys("x"))
	m.Update(tea.BlurMsg{})
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, []string{"input", "blur"}, ctrl.calls)

	// Typing refocuses before editing.
	m.Update(keys("y"))
	m.Update(keys("y"))
	assert.Equal(t, "xy", m.Value())
}

func TestCtrlCFlushesAndQuits(t *testing.T) {
	m, ctrl, stopped := started(t)
	m.Update(keys("bye"))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.True(t, *stopped)
	assert.Equal(t, []string{"input", "blur"}, ctrl.calls)
}

func TestRunMsgRunsOnUpdate(t *testing.T) {
	m, _, _ := started(t)
	ran := false
	m.Update(runMsg(func() { ran = true }))
	assert.True(t, ran)
}

func TestSetValueDoesNotReportInput(t *testing.T) {
	m, ctrl, _ := started(t)
	m.SetValue("remote")
	assert.Equal(t, "remote", m.Value())
	assert.Empty(t, ctrl.calls)
}

func TestViewShowsStatus(t *testing.T) {
	ctrl := &recordingController{}
	n := status.NewNotifier(looptest.New(), 0)
	m := New("http://relay:8080", Binding{Start: func(m *Model) { m.Bind(ctrl, n) }})
	m.Update(startMsg{})
	n.Show("Disconnected", status.Offline)
	v := m.View()
	assert.Contains(t, v, "http://relay:8080")
	assert.Contains(t, v, "Disconnected")
}

type sender struct {
	sent []string
}

func (s *sender) IsOpen() bool { return true }

func (s *sender) Send(text string) bool {
	s.sent = append(s.sent, text)
	return true
}

// countingModel counts writes that reach the text area.
type countingModel struct {
	*Model
	writes int
}

func (c *countingModel) SetValue(text string) {
	c.writes++
	c.Model.SetValue(text)
}

func TestControlCharactersSurviveTheTextArea(t *testing.T) {
	for name, text := range map[string]string{
		"tab":         "col1\tcol2",
		"crlf":        "line1\r\nline2",
		"controls":    "bell\a nul\x00 del\x7f c1\u0085",
		"replacement": "bad\ufffdrune",
	} {
		t.Run(name, func(t *testing.T) {
			sched := looptest.New()
			m := &countingModel{Model: New("http://relay:8080", Binding{})}
			out := &sender{}
			ctrl := syncer.New(sched, m, out, status.NewNotifier(sched, 0), nil)
			m.Bind(ctrl, nil)

			ctrl.Receive(text)
			assert.Equal(t, text, m.Value())
			assert.Equal(t, 1, m.writes)

			// A redelivery matches the field and is not written again.
			ctrl.Receive(text)
			assert.Equal(t, 1, m.writes)

			m.Update(tea.BlurMsg{})
			assert.Equal(t, []string{text}, out.sent)
		})
	}
}

func TestTypingKeepsReceivedTabs(t *testing.T) {
	sched := looptest.New()
	m := New("http://relay:8080", Binding{})
	out := &sender{}
	ctrl := syncer.New(sched, m, out, status.NewNotifier(sched, 0), nil)
	m.Bind(ctrl, nil)

	ctrl.Receive("a\tb\r\nc")
	m.Update(keys("d"))
	assert.Equal(t, "a\tb\r\ncd", m.Value())

	sched.Advance(syncer.DefaultDebounce + time.Millisecond)
	assert.Equal(t, []string{"a\tb\r\ncd"}, out.sent)
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, text := range []string{"", "plain", "multi\nline", "\t\r\x1b[0m\u009f", "wide 世界"} {
		assert.Equal(t, text, decode(encode(text)))
		assert.NotContains(t, encode(text), "\t")
		assert.NotContains(t, encode(text), "\r")
	}
	assert.Equal(t, "multi\nline", encode("multi\nline"))
}
