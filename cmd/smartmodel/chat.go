package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/runner"
	"github.com/nstogner/smartmodel/pkg/store"
	"github.com/nstogner/smartmodel/pkg/structured"
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

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

// chatBuffer bounds the events queued between the broadcast subjects and the
// TUI loop.
const chatBuffer = 512

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal UI for asking questions answered by Python programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.Runner(ctx)
			if err != nil {
				return err
			}
			history, err := a.Store()
			if err != nil {
				return err
			}

			events := make(chan structured.Event, chatBuffer)
			sub := a.Events().Subscribe(func(e structured.Event) {
				select {
				case events <- e:
				default:
				}
			})
			defer sub.Close()

			lines := make(chan string, chatBuffer)
			logSub := a.Logs().Subscribe(func(l string) {
				select {
				case lines <- l:
				default:
				}
			})
			defer logSub.Close()

			p := tea.NewProgram(initialChatModel(ctx, r, history, events, lines), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

type state int

const (
	stateMenu state = iota
	stateSelectingExecution
	stateChatting
	stateConfirmExit
)

type entry struct {
	role domain.Role
	text string
}

type errMsg struct{ err error }
type eventMsg structured.Event
type logLineMsg string
type executionsMsg []domain.ExecutionRecord

type runDoneMsg struct {
	res *runner.Result
	err error
}

type chatModel struct {
	ctx     context.Context
	runner  *runner.Runner
	history store.Store
	events  <-chan structured.Event
	lines   <-chan string

	// State
	state      state
	executions []domain.ExecutionRecord
	cursor     int
	listOffset int
	width      int
	height     int
	err        error

	// Active request
	activeID  string
	started   time.Time
	streaming string
	output    []string

	// UI Components
	viewport viewport.Model
	textarea textarea.Model

	// Data
	transcript []entry
	renderer   *glamour.TermRenderer
}

func initialChatModel(ctx context.Context, r *runner.Runner, history store.Store, events <-chan structured.Event, lines <-chan string) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Ask a question..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000

	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Ask anything that a short Python program can answer.")

	// "light" avoids terminal queries that leak into input.
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	start := stateChatting
	if history != nil {
		start = stateMenu
	}

	return chatModel{
		ctx:      ctx,
		runner:   r,
		history:  history,
		events:   events,
		lines:    lines,
		state:    start,
		viewport: vp,
		textarea: ta,
		renderer: renderer,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForEvent(m.events), waitForLine(m.lines))
}

func (m chatModel) running() bool { return m.activeID != "" }

func (m chatModel) maxViewable() int {
	return max(m.height-7, 1)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the textarea while chatting, so menu selection does
	// not leak into the input.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting && !m.running() {
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
		m.viewport.Height = max(msg.Height-m.textarea.Height()-4, 0)
		m.viewport.YPosition = 2

		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		m.refresh()

		if m.cursor < m.listOffset {
			m.listOffset = m.cursor
		}
		if m.cursor >= m.listOffset+m.maxViewable() {
			m.listOffset = m.cursor - m.maxViewable() + 1
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			switch {
			case m.state == stateConfirmExit:
				m.state = stateChatting
				return m, nil
			case m.state == stateSelectingExecution:
				m.state = stateMenu
				m.cursor = 0
				return m, nil
			case m.running():
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyCtrlK:
			if m.running() {
				slog.Info("Killing running program", "requestID", m.activeID)
				m.runner.Kill()
			}
		case tea.KeyEnter:
			switch m.state {
			case stateMenu:
				if m.cursor == 0 {
					m.state = stateChatting
					m.textarea.Focus()
					return m, nil
				}
				return m, m.loadExecutions()
			case stateSelectingExecution:
				if len(m.executions) > 0 {
					m.showExecution(m.executions[m.cursor])
					m.state = stateChatting
				}
				return m, nil
			case stateChatting:
				if m.running() {
					return m, nil
				}
				m.err = nil
				return m.send()
			}
		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.listOffset {
					m.listOffset = m.cursor
				}
			}
		case tea.KeyDown:
			var maxCursor int
			switch m.state {
			case stateMenu:
				maxCursor = 1
			case stateSelectingExecution:
				maxCursor = len(m.executions) - 1
			}
			if m.cursor < maxCursor {
				m.cursor++
				if m.cursor >= m.listOffset+m.maxViewable() {
					m.listOffset = m.cursor - m.maxViewable() + 1
				}
			}
		default:
			if m.state == stateConfirmExit {
				switch msg.String() {
				case "y", "Y":
					m.runner.Kill()
					return m, tea.Quit
				case "n", "N":
					m.state = stateChatting
				}
			}
		}

	case eventMsg:
		if msg.RequestID == m.activeID {
			m.streaming = msg.Chunk.Content
			m.refresh()
		}
		cmds = append(cmds, waitForEvent(m.events))

	case logLineMsg:
		if m.running() {
			m.output = append(m.output, string(msg))
			m.refresh()
		}
		cmds = append(cmds, waitForLine(m.lines))

	case runDoneMsg:
		slog.Debug("Run finished", "requestID", m.activeID, "elapsed", time.Since(m.started))
		m.activeID = ""
		m.streaming = ""
		m.output = nil
		if msg.res != nil {
			m.appendResult(msg.res)
		}
		if msg.err != nil {
			m.err = msg.err
		}
		m.textarea.Focus()
		m.refresh()

	case executionsMsg:
		m.executions = msg
		if len(m.executions) == 0 {
			m.err = fmt.Errorf("no executions recorded yet")
			break
		}
		m.state = stateSelectingExecution
		m.cursor = 0
		m.listOffset = 0

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m chatModel) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("\nError: %v", m.err))
	}

	switch m.state {
	case stateMenu:
		return m.listView("Main Menu", []string{"New conversation", "Browse executions"}, errorView)

	case stateSelectingExecution:
		items := make([]string, len(m.executions))
		for i, e := range m.executions {
			status := "ok"
			if !e.Successful {
				status = "failed"
			}
			items[i] = fmt.Sprintf("%s  %-6s  %s", e.CreatedAt.Local().Format(time.DateTime), status, oneLine(e.Intent))
		}
		return m.listView("Select Execution", items, errorView)

	case stateConfirmExit:
		return lipgloss.JoinVertical(
			lipgloss.Left,
			titleStyle.Render("Confirm Exit"),
			"",
			"A program is still running. Kill it and exit? (y/n)",
			errorView,
		)
	}

	footer := "Enter to send, Esc to quit."
	if m.running() {
		footer = fmt.Sprintf("Working for %s. Ctrl+K kills the program.", time.Since(m.started).Round(time.Second))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("smartmodel"),
		"",
		m.viewport.View(),
		dimStyle.Render(footer),
		errorView,
		m.textarea.View(),
	)
}

func (m chatModel) listView(title string, items []string, errorView string) string {
	start := m.listOffset
	end := min(start+m.maxViewable(), len(items))

	var optionsView []string
	for i := start; i < end; i++ {
		line := items[i]
		cursor := " "
		if m.cursor == i {
			cursor = ">"
			line = selectedItemStyle.Render(line)
		}
		optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
	}

	list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
	footer := "Press Enter to select, Esc to go back."
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), "", list, "", footer, errorView)
}

// Actions

func (m chatModel) send() (chatModel, tea.Cmd) {
	request := strings.TrimSpace(m.textarea.Value())
	if request == "" {
		return m, nil
	}
	m.textarea.Reset()
	m.textarea.Blur()

	m.transcript = append(m.transcript, entry{role: domain.RoleUser, text: request})
	m.activeID = uuid.New().String()
	m.started = time.Now()
	m.refresh()

	r, ctx, id := m.runner, m.ctx, m.activeID
	return m, func() tea.Msg {
		res, err := r.Run(ctx, request, runner.WithRequestID(id))
		return runDoneMsg{res: res, err: err}
	}
}

func (m chatModel) loadExecutions() tea.Cmd {
	return func() tea.Msg {
		recs, err := m.history.ListExecutions(m.ctx, 100)
		if err != nil {
			return errMsg{err}
		}
		return executionsMsg(recs)
	}
}

func (m *chatModel) appendResult(res *runner.Result) {
	for i, exec := range res.Executions {
		var sb strings.Builder
		fmt.Fprintf(&sb, "**Program %d**: %s\n\n```python\n%s\n```\n", i+1, exec.Source.Intent, exec.Source.Code)
		if exec.Stderr != "" {
			fmt.Fprintf(&sb, "\n```\n%s\n```\n", exec.Stderr)
		}
		m.transcript = append(m.transcript, entry{role: domain.RoleSystem, text: sb.String()})
	}
	if res.Answer != "" {
		m.transcript = append(m.transcript, entry{role: domain.RoleAssistant, text: res.Answer})
	}
}

func (m *chatModel) showExecution(e domain.ExecutionRecord) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**\n\n```python\n%s\n```\n", e.Intent, e.Code)
	if e.Stdout != "" {
		fmt.Fprintf(&sb, "\nOutput:\n\n```\n%s\n```\n", e.Stdout)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&sb, "\nErrors:\n\n```\n%s\n```\n", e.Stderr)
	}
	m.transcript = append(m.transcript, entry{role: domain.RoleSystem, text: sb.String()})
	m.refresh()
}

func (m *chatModel) render(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}

// refresh re-renders the transcript into the viewport.
func (m *chatModel) refresh() {
	var sb strings.Builder
	for _, e := range m.transcript {
		switch e.role {
		case domain.RoleUser:
			sb.WriteString(userStyle.Render("You: "))
		case domain.RoleAssistant:
			sb.WriteString(senderStyle.Render("AI: "))
		default:
			sb.WriteString(dimStyle.Render("Sandbox: "))
		}
		sb.WriteString("\n")
		sb.WriteString(m.render(e.text))
		sb.WriteString("\n")
	}
	if m.running() {
		for _, l := range m.output {
			sb.WriteString(dimStyle.Render("│ " + l))
			sb.WriteString("\n")
		}
		if m.streaming != "" {
			sb.WriteString(dimStyle.Render(m.streaming))
			sb.WriteString("\n")
		}
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func waitForEvent(ch <-chan structured.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func waitForLine(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		l, ok := <-ch
		if !ok {
			return nil
		}
		return logLineMsg(l)
	}
}
