// Command cli is a terminal chat client for the agent.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	go run cmd/cli/main.go
//
// Flags:
//
//	-serve  Run the HTTP/websocket server instead of the TUI.
//
// Commands inside the chat:
//
//	/exit - Exit the program
//	<message> - Send a message to the agent
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/vheckthor/goose-sub001/pkg/agent"
	"github.com/vheckthor/goose-sub001/pkg/config"
	"github.com/vheckthor/goose-sub001/pkg/extension"
	"github.com/vheckthor/goose-sub001/pkg/message"
	"github.com/vheckthor/goose-sub001/pkg/provider"
	"github.com/vheckthor/goose-sub001/pkg/provider/anthropic"
	"github.com/vheckthor/goose-sub001/pkg/provider/gemini"
	"github.com/vheckthor/goose-sub001/pkg/provider/openai"
	"github.com/vheckthor/goose-sub001/pkg/server"
	"github.com/vheckthor/goose-sub001/pkg/store"
	"github.com/vheckthor/goose-sub001/pkg/store/jsonl"
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

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

type state int

const (
	stateMenu state = iota
	stateSelectingSession
	stateChatting
	stateConfirmTool
	stateConfirmExit
)

type errMsg struct{ err error }
type sessionUpdateMsg string
type replyDoneMsg struct{ err error }

type model struct {
	ctx     context.Context
	agent   *agent.Agent
	mode    agent.Mode
	manager store.Manager
	sess    *sessionHolder
	updates <-chan string
	replies chan error

	// State
	state             state
	availableSessions []store.Info
	cursor            int
	listOffset        int
	width             int
	height            int
	err               error
	replying          bool

	// Pending tool request IDs awaiting a y/n decision in approve mode.
	pending []string

	// UI Components
	viewport viewport.Model
	textarea textarea.Model

	// Data
	messages []message.Message
	renderer *glamour.TermRenderer
}

// sessionHolder shares the current session between the TUI and the agent's
// usage callback, which fires on the reply goroutine.
type sessionHolder struct {
	mu   sync.Mutex
	sess store.Session
}

func (h *sessionHolder) set(s store.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess != nil {
		h.sess.Close()
	}
	h.sess = s
}

func (h *sessionHolder) get() store.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func (h *sessionHolder) recordUsage(modelName string, usage provider.Usage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return
	}
	if err := h.sess.AppendUsage(modelName, usage.InputTokens, usage.OutputTokens, usage.TotalTokens); err != nil {
		slog.Error("Failed to record usage", "error", err)
	}
}

func initialModel(ctx context.Context, a *agent.Agent, mode agent.Mode, manager store.Manager, holder *sessionHolder) model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 280

	ta.SetWidth(80)
	ta.SetHeight(3)

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Welcome! Select an option.")

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return model{
		ctx:      ctx,
		agent:    a,
		mode:     mode,
		manager:  manager,
		sess:     holder,
		replies:  make(chan error, 1),
		state:    stateMenu,
		viewport: vp,
		textarea: ta,
		renderer: r,
	}
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys feed the textarea only while chatting, so Enter used for menu
	// selection does not leak into it.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
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
		m.viewport.Height = msg.Height - m.textarea.Height() - 2
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.viewport.YPosition = 2

		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(m.width-4),
		)

		maxViewable := m.height - 7
		if maxViewable < 1 {
			maxViewable = 1
		}
		if m.cursor < m.listOffset {
			m.listOffset = m.cursor
		}
		if m.cursor >= m.listOffset+maxViewable {
			m.listOffset = m.cursor - maxViewable + 1
		}
		if m.listOffset < 0 {
			m.listOffset = 0
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.sess.get() != nil {
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.state == stateConfirmExit {
				m.state = stateChatting
				return m, nil
			}
			if m.sess.get() != nil {
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			switch m.state {
			case stateMenu:
				if m.cursor == 0 {
					return m.newSession()
				}
				sessions, err := m.manager.List()
				if err != nil {
					m.err = err
				} else if len(sessions) == 0 {
					m.err = fmt.Errorf("no existing sessions found")
				} else {
					m.availableSessions = sessions
					m.state = stateSelectingSession
					m.cursor = 0
					m.listOffset = 0
				}
			case stateSelectingSession:
				return m.selectSession()
			case stateChatting:
				m.err = nil
				return m.sendMessage()
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
			case stateSelectingSession:
				maxCursor = len(m.availableSessions) - 1
			}
			if m.cursor < maxCursor {
				m.cursor++
				maxViewable := m.height - 7
				if maxViewable < 1 {
					maxViewable = 1
				}
				if m.cursor >= m.listOffset+maxViewable {
					m.listOffset = m.cursor - maxViewable + 1
				}
			}
		default:
			if m.state == stateConfirmExit {
				switch msg.String() {
				case "y", "Y":
					return m, tea.Sequence(m.endSessionCmd(), tea.Quit)
				case "n", "N":
					return m, tea.Quit
				}
			}
			if m.state == stateConfirmTool {
				switch msg.String() {
				case "y", "Y":
					return m.decideTools(true)
				case "n", "N":
					return m.decideTools(false)
				}
			}
		}

	case sessionUpdateMsg:
		slog.Debug("TUI received update for session", "sessionID", msg)
		if sess := m.sess.get(); sess != nil && string(msg) == sess.ID() {
			cmds = append(cmds, m.reloadMessages(), waitForUpdate(m.updates))
		} else {
			cmds = append(cmds, waitForUpdate(m.updates))
		}

	case updateViewMsg:
		m.messages = msg.messages
		m.viewport.SetContent(msg.content)
		m.viewport.GotoBottom()
		if m.replying && m.mode == agent.ModeApprove {
			if pending := pendingRequests(m.messages); len(pending) > 0 {
				m.pending = pending
				m.state = stateConfirmTool
			}
		}

	case replyDoneMsg:
		m.replying = false
		if m.state == stateConfirmTool {
			m.state = stateChatting
		}
		if msg.err != nil {
			m.err = msg.err
		}
		cmds = append(cmds, m.reloadMessages())

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("\nError: %v", m.err))
	}

	if m.state == stateMenu {
		header := titleStyle.Render("Main Menu")

		options := []string{"New Session", "Continue Session"}
		var optionsView []string
		for i, choice := range options {
			cursor := " "
			if m.cursor == i {
				cursor = ">"
				choice = selectedItemStyle.Render(choice)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), choice))
		}

		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Press Enter to select, Esc to quit."

		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
	}

	if m.state == stateSelectingSession {
		header := titleStyle.Render("Select Session")

		maxViewable := m.height - 7
		if maxViewable < 1 {
			maxViewable = 1
		}

		start := m.listOffset
		end := start + maxViewable
		if end > len(m.availableSessions) {
			end = len(m.availableSessions)
		}

		var optionsView []string
		for i := start; i < end; i++ {
			choice := m.availableSessions[i]
			cursor := " "
			line := fmt.Sprintf("%s (%s)", choice.ID, choice.Modified.Format(time.RFC822))
			if m.cursor == i {
				cursor = ">"
				line = selectedItemStyle.Render(line)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
		}

		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Press Enter to select, Esc to quit."

		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
	}

	if m.state == stateConfirmExit {
		header := titleStyle.Render("Confirm Exit")
		prompt := "End Session? (y/n)"
		subtext := "Ending the session marks it completed."

		return lipgloss.JoinVertical(lipgloss.Left, header, "", prompt, subtext, errorView)
	}

	footer := ""
	if m.state == stateConfirmTool {
		footer = selectedItemStyle.Render(fmt.Sprintf("Run %d requested tool(s)? (y/n)", len(m.pending)))
	} else if m.replying {
		footer = toolStyle.Render("Thinking...")
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Agent"),
		"",
		m.viewport.View(),
		"",
		footer,
		errorView,
		m.textarea.View(),
	)
}

// Actions

func (m model) newSession() (model, tea.Cmd) {
	sess, err := m.manager.New("")
	if err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}
	m.sess.set(sess)
	return m.enterChat()
}

func (m model) selectSession() (model, tea.Cmd) {
	selected := m.availableSessions[m.cursor]
	sess, err := m.manager.Load(selected.ID)
	if err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}
	m.sess.set(sess)
	return m.enterChat()
}

func (m model) enterChat() (model, tea.Cmd) {
	m.updates = m.manager.Subscribe()

	m.state = stateChatting
	m.textarea.Placeholder = "Type a message..."
	m.textarea.Focus()

	return m, tea.Batch(
		m.reloadMessages(),
		waitForUpdate(m.updates),
	)
}

func (m model) sendMessage() (model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}

	if v == "/exit" {
		m.state = stateConfirmExit
		return m, nil
	}

	if m.replying {
		m.err = fmt.Errorf("a reply is already in progress")
		return m, nil
	}

	sess := m.sess.get()
	if sess == nil {
		return m, nil
	}

	m.textarea.Reset()

	userMsg := message.NewUser(v)
	if err := sess.AppendMessage(userMsg); err != nil {
		return m, func() tea.Msg { return errMsg{err} }
	}
	history := append(append([]message.Message(nil), m.messages...), userMsg)
	m.messages = history
	m.replying = true

	replies := m.replies
	a := m.agent
	ctx := m.ctx
	go func() {
		stream, err := a.Reply(ctx, history)
		if err != nil {
			replies <- err
			return
		}
		for msg := range stream {
			if err := sess.AppendMessage(msg); err != nil {
				slog.Error("Failed to persist reply", "error", err)
			}
		}
		replies <- nil
	}()

	return m, tea.Batch(m.reloadMessages(), waitForReply(replies))
}

func (m model) decideTools(approved bool) (model, tea.Cmd) {
	for _, id := range m.pending {
		if err := m.agent.SubmitConfirmation(agent.Confirmation{ID: id, Approved: approved}); err != nil {
			slog.Warn("Dropping confirmation", "id", id, "error", err)
		}
	}
	m.pending = nil
	m.state = stateChatting
	return m, nil
}

func (m model) endSessionCmd() tea.Cmd {
	return func() tea.Msg {
		if sess := m.sess.get(); sess != nil {
			if err := m.manager.SetStatus(sess.ID(), store.StatusCompleted); err != nil {
				slog.Error("Failed to set session status", "error", err)
			}
		}
		return nil
	}
}

type updateViewMsg struct {
	content  string
	messages []message.Message
}

func (m model) reloadMessages() tea.Cmd {
	sess := m.sess.get()
	renderer := m.renderer
	return func() tea.Msg {
		if sess == nil {
			return nil
		}
		// Re-read from disk so reply messages persisted by the stream
		// goroutine show up.
		view, err := m.manager.Load(sess.ID())
		if err != nil {
			return errMsg{err}
		}
		defer view.Close()

		messages, err := view.Messages()
		if err != nil {
			return errMsg{err}
		}

		var sb strings.Builder
		for _, msg := range messages {
			renderMessage(&sb, msg, renderer)
		}
		return updateViewMsg{content: sb.String(), messages: messages}
	}
}

func renderMessage(sb *strings.Builder, msg message.Message, renderer *glamour.TermRenderer) {
	for _, c := range msg.Content {
		switch {
		case c.Text != nil:
			if msg.Role == message.RoleUser {
				sb.WriteString(userStyle.Render("User: "))
			} else {
				sb.WriteString(senderStyle.Render("AI: "))
			}
			sb.WriteString("\n")
			raw := c.Text.Text
			if renderer != nil {
				if rendered, err := renderer.Render(raw); err == nil {
					raw = rendered
				}
			}
			sb.WriteString(raw)
			sb.WriteString("\n")
		case c.ToolRequest != nil:
			if c.ToolRequest.Call != nil {
				sb.WriteString(toolStyle.Render(fmt.Sprintf("[Tool: %s]", c.ToolRequest.Call.Name)))
			} else {
				sb.WriteString(toolStyle.Render(fmt.Sprintf("[Tool request error: %s]", c.ToolRequest.Error)))
			}
			sb.WriteString("\n")
		case c.ToolResponse != nil:
			status := "ok"
			if c.ToolResponse.Error != "" {
				status = "error: " + c.ToolResponse.Error
			}
			sb.WriteString(toolStyle.Render(fmt.Sprintf("[Tool result %s: %s]", c.ToolResponse.ID, status)))
			sb.WriteString("\n")
		}
	}
}

// pendingRequests returns tool request IDs that have no matching response
// yet. In approve mode these are the ones waiting on the user.
func pendingRequests(messages []message.Message) []string {
	answered := map[string]bool{}
	for _, msg := range messages {
		for _, resp := range msg.ToolResponses() {
			answered[resp.ID] = true
		}
	}
	var pending []string
	for _, msg := range messages {
		for _, req := range msg.ToolRequests() {
			if req.Call != nil && !answered[req.ID] {
				pending = append(pending, req.ID)
			}
		}
	}
	return pending
}

func waitForReply(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return replyDoneMsg{err: <-ch}
	}
}

func waitForUpdate(sub <-chan string) tea.Cmd {
	return func() tea.Msg {
		id, ok := <-sub
		if !ok {
			return nil
		}
		return sessionUpdateMsg(id)
	}
}

// --- Main ---

func setupLogging(cfg config.Config) (*os.File, error) {
	path := cfg.LogFile
	if path == "" {
		path = "agent.log"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	logLevel := slog.LevelInfo
	switch strings.ToUpper(cfg.LogLevel) {
	case "TRACE":
		logLevel = gemini.LevelTrace
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", logLevel)
	return f, nil
}

func buildProvider(ctx context.Context, cfg config.Config) (provider.Provider, provider.ModelConfig, error) {
	modelCfg := provider.ModelConfig{
		ModelName:      cfg.Model,
		ContextLimit:   cfg.ContextLimit,
		EstimateFactor: cfg.EstimateFactor,
		MaxTokens:      cfg.MaxTokens,
	}
	key, err := cfg.APIKey()
	if err != nil {
		return nil, modelCfg, err
	}
	switch cfg.Provider {
	case "gemini":
		p, err := gemini.New(ctx, key, modelCfg)
		return p, modelCfg, err
	case "anthropic":
		return anthropic.New(key, modelCfg), modelCfg, nil
	case "openai":
		return openai.New(key, cfg.OpenAIBaseURL, modelCfg), modelCfg, nil
	}
	return nil, modelCfg, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func main() {
	serve := flag.Bool("serve", false, "run the HTTP server instead of the TUI")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logFile, err := setupLogging(cfg)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer logFile.Close()

	p, modelCfg, err := buildProvider(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize provider", "error", err)
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	registry := extension.NewRegistry()
	registry.Register(extension.NewDeveloperExtension(cfg.WorkingDir), true)

	manager := jsonl.NewManager(cfg.SessionDir)
	holder := &sessionHolder{}

	a, err := agent.New(agent.Config{
		Provider:    p,
		Model:       modelCfg,
		Extensions:  registry,
		Mode:        agent.Mode(cfg.Mode),
		Strategy:    agent.ContextStrategy(cfg.Strategy),
		Toolshim:    cfg.Toolshim,
		RecordUsage: holder.recordUsage,
	})
	if err != nil {
		slog.Error("Failed to initialize agent", "error", err)
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer a.Close()

	if *serve {
		if err := server.New(manager, a).Start(cfg.Addr); err != nil {
			slog.Error("Server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	prog := tea.NewProgram(initialModel(ctx, a, agent.Mode(cfg.Mode), manager, holder))
	if _, err := prog.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
