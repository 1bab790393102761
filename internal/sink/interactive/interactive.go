// Package interactive implements the TUI mode sink's boundary contract: a
// bubbletea Model that subscribes to sink.ModeEvents and renders a
// scrolling transcript, a single-line status, and a prompt editor. Per the
// core's Non-goals, the screen-buffer/wrapping/Unicode-width internals of
// a full terminal renderer are an external collaborator — this Model
// proves the wiring (event -> transcript line -> frame) without
// reproducing them.
package interactive

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nautilus-run/pz/internal/provider"
	"github.com/nautilus-run/pz/internal/sink"
)

// Controller is the boundary the TUI drives for everything beyond
// rendering: submitting a prompt or a slash command. It mirrors
// sink.RPCController's shape but returns nothing to stream back — the
// Model instead expects the submitted work's events to arrive through its
// own Events channel as the loop runs.
type Controller interface {
	Submit(text string) error
	SlashCommand(name string, arg string) error
}

// modeEventMsg wraps a sink.ModeEvent as a bubbletea message so it can be
// delivered through the Update loop like any other input.
type modeEventMsg sink.ModeEvent

// Events is the channel a driver (cmd/pz) pumps sink.ModeEvents into; the
// Model's listen command re-reads it after every delivered message so the
// TUI keeps consuming for the life of the program.
type Events chan sink.ModeEvent

// Push satisfies sink.ModeSink by forwarding onto the channel. When the
// channel is full the new event is dropped rather than blocking the agent
// loop; callers should size the channel generously (cmd/pz uses a buffer
// of 256).
func (e Events) Push(ev sink.ModeEvent) {
	select {
	case e <- ev:
	default:
		// Backpressure policy: drop rather than stall the loop. A dropped
		// event still exists in the session log and can be recovered by
		// replay; only the live render misses it.
	}
}

// line is one rendered transcript entry.
type line struct {
	role string // "you", "assistant", "tool", "system"
	text string
}

// Model is the trimmed interactive-mode bubbletea model.
type Model struct {
	events     Events
	controller Controller

	transcript []line
	status     string

	chatView viewport.Model
	input    textarea.Model
	renderer *glamour.TermRenderer

	width, height int
	quitting      bool
}

func New(events Events, controller Controller) Model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()
	ta.ShowLineNumbers = false

	cv := viewport.New(80, 20)

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle())

	return Model{
		events:     events,
		controller: controller,
		chatView:   cv,
		input:      ta,
		renderer:   renderer,
		status:     "ready",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.listen())
}

// listen blocks on the shared Events channel and redelivers what it reads
// as a bubbletea message; Update re-arms listen each time so the Model
// keeps draining the channel for the life of the program.
func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return modeEventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.chatView.Width = msg.Width
		m.chatView.Height = msg.Height - inputReservedLines
		m.input.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			m.submit(text)
			return m, nil
		}

	case modeEventMsg:
		m.applyEvent(sink.ModeEvent(msg))
		m.chatView.SetContent(m.render())
		m.chatView.GotoBottom()
		return m, m.listen()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

const inputReservedLines = 4

func (m *Model) submit(text string) {
	var err error
	if strings.HasPrefix(text, "/") {
		name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
		m.transcript = append(m.transcript, line{role: "you", text: text})
		err = m.controller.SlashCommand(name, arg)
	} else {
		m.transcript = append(m.transcript, line{role: "you", text: text})
		err = m.controller.Submit(text)
	}
	if err != nil {
		m.status = fmt.Sprintf("error: %v", err)
	}
}

func (m *Model) applyEvent(e sink.ModeEvent) {
	switch e.Kind {
	case sink.KindProvider:
		m.applyProvider(e.Provider)
	case sink.KindTool:
		m.applyTool(e.Tool)
	}
}

func (m *Model) applyProvider(event provider.Event) {
	switch event.Kind {
	case provider.EventText:
		if n := len(m.transcript); n > 0 && m.transcript[n-1].role == "assistant" {
			m.transcript[n-1].text += event.Text
			return
		}
		m.transcript = append(m.transcript, line{role: "assistant", text: event.Text})
	case provider.EventStop:
		m.status = fmt.Sprintf("stopped: %s", event.Stop)
	case provider.EventErr:
		m.transcript = append(m.transcript, line{role: "system", text: "error: " + event.Text})
	}
}

func (m *Model) applyTool(t sink.ToolModeEvent) {
	switch t.Phase {
	case sink.ToolPhaseStart:
		m.transcript = append(m.transcript, line{role: "tool", text: fmt.Sprintf("%s running...", t.Call.Name)})
	case sink.ToolPhaseFinish:
		m.transcript = append(m.transcript, line{role: "tool", text: fmt.Sprintf("%s: %s", t.Call.Name, t.Result.Final.Summary())})
	}
}

func (m Model) render() string {
	var b strings.Builder
	for _, l := range m.transcript {
		text := l.text
		if l.role == "assistant" && m.renderer != nil {
			if rendered, err := m.renderer.Render(text); err == nil {
				text = rendered
			}
		}
		b.WriteString(roleStyle(l.role).Render(l.role))
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

func roleStyle(role string) lipgloss.Style {
	switch role {
	case "you":
		return lipgloss.NewStyle().Bold(true)
	case "tool":
		return lipgloss.NewStyle().Faint(true)
	case "system":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	default:
		return lipgloss.NewStyle()
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	status := lipgloss.NewStyle().Faint(true).Render(m.status)
	return lipgloss.JoinVertical(lipgloss.Left, m.chatView.View(), status, m.input.View())
}
