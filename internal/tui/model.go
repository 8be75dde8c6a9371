// Package tui is the interactive terminal front-end of the chat client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/orchestrator"
)

const toastDuration = 4 * time.Second

type (
	stateChangedMsg struct{}
	eventMsg        orchestrator.Event
	turnDoneMsg     struct{ err error }
	toastMsg        string
	toastExpiredMsg struct{ seq int }
)

// Model is the bubbletea model of the chat screen
type Model struct {
	orch  *orchestrator.Orchestrator
	store *chat.Store
	route models.Route

	input    textarea.Model
	spin     spinner.Model
	view     viewport.Model
	changed  chan struct{}
	events   chan orchestrator.Event
	state    chat.State
	toast    string
	toastSeq int
	lastErr  string
	now      time.Time
	width    int
	height   int
}

// Channels carries store and orchestrator notifications into the UI loop.
// Register OnStateChange and OnEvent before the program starts.
type Channels struct {
	changed chan struct{}
	events  chan orchestrator.Event
}

// NewChannels creates the notification channels shared by store,
// orchestrator and model.
func NewChannels() Channels {
	return Channels{
		changed: make(chan struct{}, 1),
		events:  make(chan orchestrator.Event, 32),
	}
}

// OnStateChange is a chat.Store subscriber. Notifications are coalesced.
func (c Channels) OnStateChange(chat.State) {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// OnEvent is an orchestrator.Observer. Events are dropped if the UI lags.
func (c Channels) OnEvent(e orchestrator.Event) {
	select {
	case c.events <- e:
	default:
	}
}

// New creates the chat screen for an orchestrator wired to ch
func New(orch *orchestrator.Orchestrator, store *chat.Store, route models.Route, ch Channels) Model {
	in := textarea.New()
	in.Placeholder = "Ask something… (enter send · esc stop · ctrl+r route · ctrl+l clear · /timeout fast 45s)"
	in.ShowLineNumbers = false
	in.SetHeight(3)
	in.KeyMap.InsertNewline.SetEnabled(false)
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = toastStyle

	return Model{
		orch:    orch,
		store:   store,
		route:   route,
		input:   in,
		spin:    s,
		view:    viewport.New(80, 20),
		changed: ch.changed,
		events:  ch.events,
		state:   store.Snapshot(),
		now:     time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick, m.waitForChange(), m.waitForEvent())
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changed
		return stateChangedMsg{}
	}
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.events)
	}
}

func (m Model) submit(prompt string) tea.Cmd {
	orch, route := m.orch, m.route
	return func() tea.Msg {
		_, err := orch.Submit(context.Background(), route, prompt)
		return turnDoneMsg{err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(msg.Width)
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-m.input.Height()-4, 3)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.orch.Stop()
			return m, tea.Quit
		case "esc":
			m.orch.Stop()
			return m, nil
		case "ctrl+l":
			m.clear()
			return m, nil
		case "ctrl+r":
			m.route = nextRoute(m.route)
			m.clear()
			return m, nil
		case "enter":
			prompt := strings.TrimSpace(m.input.Value())
			if cmd, err := parseTimeoutCommand(prompt); !errors.Is(err, errNotCommand) {
				m.input.Reset()
				return m, m.setTimeout(cmd, err)
			}
			if prompt == "" || m.state.Sending {
				return m, nil
			}
			m.input.Reset()
			m.lastErr = ""
			return m, m.submit(prompt)
		}

	case stateChangedMsg:
		m.state = m.store.Snapshot()
		m.refresh()
		return m, m.waitForChange()

	case eventMsg:
		cmds = append(cmds, m.waitForEvent())
		if msg.Text != "" {
			cmds = append(cmds, m.showToast(msg.Text))
		}
		return m, tea.Batch(cmds...)

	case toastMsg:
		return m, m.showToast(string(msg))

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case turnDoneMsg:
		var exhausted *orchestrator.PlanExhaustedError
		if msg.err != nil && !errors.As(msg.err, &exhausted) && !errors.Is(msg.err, orchestrator.ErrEmptyPrompt) {
			m.lastErr = msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		m.now = msg.Time
		if m.state.Sending {
			m.refresh()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) showToast(text string) tea.Cmd {
	m.toastSeq++
	m.toast = text
	seq := m.toastSeq
	return tea.Tick(toastDuration, func(time.Time) tea.Msg { return toastExpiredMsg{seq} })
}

// setTimeout applies a parsed /timeout command. The running attempt keeps
// its timer; later attempts use the new value.
func (m *Model) setTimeout(cmd timeoutCommand, err error) tea.Cmd {
	if err != nil {
		m.lastErr = err.Error()
		return nil
	}
	m.lastErr = ""
	m.state = m.store.Apply(cmd.apply)
	return func() tea.Msg {
		return toastMsg(fmt.Sprintf("%s timeout set to %s", cmd.route, cmd.timeout))
	}
}

// clear stops any turn and empties the log. A route change always clears.
func (m *Model) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.orch.Clear(ctx); err != nil {
		m.lastErr = err.Error()
	}
	m.state = m.store.Snapshot()
	m.refresh()
}

func (m *Model) refresh() {
	m.view.SetContent(renderTranscript(m.state.Messages, m.orch.Routes(), m.spin.View(), m.now, m.view.Width))
	m.view.GotoBottom()
}

func (m Model) View() string {
	header := headerStyle.Render(fmt.Sprintf("relay chat · route: %s", routeLabel(m.route, m.orch.Routes()))) +
		"  " + metaStyle.Render(formatTimeouts(m.state))
	status := ""
	switch {
	case m.state.SendError != "":
		status = errorStyle.Render(m.state.SendError)
	case m.lastErr != "":
		status = errorStyle.Render(m.lastErr)
	case m.toast != "":
		status = toastStyle.Render(m.toast)
	case m.state.Sending:
		status = metaStyle.Render(m.spin.View() + " waiting for reply")
	}
	return strings.Join([]string{header, m.view.View(), status, m.input.View()}, "\n")
}
