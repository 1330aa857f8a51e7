package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/devcli/pkg/runner"
	"github.com/nstogner/devcli/pkg/voice"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1) // Red
)

type (
	errMsg          struct{ err error }
	sessionEventMsg runner.Event
	sessionDoneMsg  struct{ sess *runner.Session }
	heardMsg        struct {
		text string
		err  error
	}
)

type tuiModel struct {
	ctx      context.Context
	runner   *runner.Runner
	listener voice.Listener
	speaker  voice.Speaker
	root     string

	busy   bool
	events <-chan tea.Msg
	width  int
	height int
	err    error

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	// Data
	blocks   []string
	renderer *glamour.TermRenderer
}

func newTUIModel(ctx context.Context, a *app) tuiModel {
	ta := textarea.New()
	ta.Placeholder = "Type a request, /voice to speak, /exit to quit..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 4000

	ta.SetWidth(80)
	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	// Enter submits.
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	m := tuiModel{
		ctx:      ctx,
		runner:   a.runner,
		listener: a.listener,
		speaker:  a.speaker,
		root:     a.runner.Dispatcher().Registry().Root(),
		viewport: vp,
		textarea: ta,
		spinner:  sp,
		renderer: r,
	}
	m.appendBlock("DevCLI Voice Agent Ready!")
	return m
}

func runTUI(ctx context.Context, a *app) error {
	p := tea.NewProgram(newTUIModel(ctx, a), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func (m tuiModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys go to the textarea only while it accepts input.
	switch msg.(type) {
	case tea.KeyMsg:
		if !m.busy {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = max(msg.Height-m.textarea.Height()-4, 0) // Header + status + margins
		m.viewport.YPosition = 2

		// Using standard style avoids "Querying terminal..." escape sequences leaking into input
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			m.err = nil
			m, cmd := m.submit()
			return m, cmd
		}

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case heardMsg:
		if msg.err != nil {
			m.busy = false
			text := heardError(msg.err)
			m.appendBlock(errorStyle.Render(text))
			cmds = append(cmds, m.speakCmd(text))
			break
		}
		m.appendBlock(userStyle.Render("You said: ") + msg.text)
		m, cmd := m.startTask(msg.text)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case sessionEventMsg:
		if line := describeEvent(runner.Event(msg)); line != "" {
			m.appendBlock(line)
		}
		cmds = append(cmds, waitForEvent(m.events))

	case sessionDoneMsg:
		m.busy = false
		m.events = nil
		out := msg.sess.Output()
		if msg.sess.State == runner.StateFailed {
			m.appendBlock(errorStyle.Render(out))
		} else {
			m.appendBlock(senderStyle.Render("AI Agent Output:") + "\n" + m.render(out))
		}
		cmds = append(cmds, m.speakCmd(out))

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m tuiModel) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	status := toolStyle.Render("Enter to send, /voice to speak, Esc to quit.")
	if m.busy {
		status = m.spinner.View() + " Working..."
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("DevCLI")+" "+toolStyle.Render(m.root),
		"",
		m.viewport.View(),
		status,
		errorView,
		m.textarea.View(),
	)
}

// submit handles the textarea content on Enter.
func (m tuiModel) submit() (tuiModel, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	m.textarea.Reset()

	switch strings.ToLower(v) {
	case "":
		return m, nil
	case "/exit", "exit", "quit":
		return m, tea.Quit
	case "/voice", "v":
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.listenCmd())
	}

	m.appendBlock(userStyle.Render("You: ") + v)
	return m.startTask(v)
}

// startTask runs task in the background and feeds its events back as
// messages.
func (m tuiModel) startTask(task string) (tuiModel, tea.Cmd) {
	ch := make(chan tea.Msg, 64)
	go func() {
		defer close(ch)
		sess := m.runner.Run(m.ctx, task, func(e runner.Event) {
			ch <- sessionEventMsg(e)
		})
		ch <- sessionDoneMsg{sess: sess}
	}()

	m.busy = true
	m.events = ch
	return m, tea.Batch(m.spinner.Tick, waitForEvent(ch))
}

func (m tuiModel) listenCmd() tea.Cmd {
	return func() tea.Msg {
		text, err := m.listener.Listen(m.ctx)
		return heardMsg{text: text, err: err}
	}
}

func (m tuiModel) speakCmd(text string) tea.Cmd {
	return func() tea.Msg {
		if err := m.speaker.Speak(m.ctx, text); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *tuiModel) appendBlock(s string) {
	m.blocks = append(m.blocks, s)
	m.refresh()
}

func (m *tuiModel) refresh() {
	m.viewport.SetContent(strings.Join(m.blocks, "\n"))
	m.viewport.GotoBottom()
}

func (m tuiModel) render(markdown string) string {
	if m.renderer == nil {
		return markdown
	}
	out, err := m.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(out, "\n")
}

// describeEvent renders a tool event as one transcript line. Other events
// are shown when the session finishes.
func describeEvent(e runner.Event) string {
	switch e.Type {
	case runner.EventToolCall:
		return toolStyle.Render(fmt.Sprintf("[Tool Usage: %s %s]", e.Invocation.Name, summarizeArgs(e.Invocation.Args)))
	case runner.EventToolResult:
		status := "Success"
		if e.Result.IsError() {
			status = "Error"
		}
		return toolStyle.Render(fmt.Sprintf("[%s: %s] %s", status, e.Invocation.Name, firstLine(e.Result.Content())))
	case runner.EventMessage:
		return senderStyle.Render("AI: ") + firstLine(e.Text)
	default:
		return ""
	}
}
