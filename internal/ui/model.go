package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"search-assist/internal/clipboard"
	"search-assist/internal/config"
	"search-assist/internal/conversation"
	"search-assist/internal/export"
	"search-assist/internal/highlight"
	"search-assist/internal/session"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const markdownCacheSize = 256

type Options struct {
	Exporter     *export.Exporter
	GlamourStyle string
	Logger       zerolog.Logger
}

type Model struct {
	ctx      context.Context
	ctrl     *session.Controller
	store    *conversation.Store
	exporter *export.Exporter
	logger   zerolog.Logger
	style    string

	viewport viewport.Model
	input    textinput.Model
	find     textinput.Model
	help     help.Model
	spinner  spinner.Model
	keys     keyMap

	width  int
	height int

	renderer      *glamour.TermRenderer
	rendererWidth int
	markdownCache *lru.Cache[string, string]

	messages  []conversation.Message
	streaming bool
	findMode  bool
	findQuery string
	matches   highlight.Cursor
	follow    bool

	status string
	err    error
}

type storeChangedMsg struct{}

type sessionDoneMsg struct {
	id  int
	err error
}

type exportMsg struct {
	path string
	err  error
}

type copyMsg struct {
	err error
}

func NewModel(ctx context.Context, ctrl *session.Controller, opts Options) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Ask anything..."
	input.CharLimit = 2000
	input.Focus()

	find := textinput.New()
	find.Prompt = "find: "
	find.Placeholder = "text in conversation"
	find.CharLimit = 200

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	style := strings.TrimSpace(opts.GlamourStyle)
	if style == "" {
		style = config.DefaultGlamourStyle
	}
	cache, _ := lru.New[string, string](markdownCacheSize)

	m := Model{
		ctx:           ctx,
		ctrl:          ctrl,
		store:         ctrl.Store(),
		exporter:      opts.Exporter,
		logger:        opts.Logger.With().Str("component", "ui").Logger(),
		style:         style,
		viewport:      viewport.New(0, 0),
		input:         input,
		find:          find,
		help:          help.New(),
		spinner:       sp,
		keys:          defaultKeys(),
		markdownCache: cache,
		follow:        true,
	}
	m.messages = m.store.Messages()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForChange(m.store.Changes()))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh()
		return m, nil

	case storeChangedMsg:
		m.refresh()
		return m, waitForChange(m.store.Changes())

	case sessionDoneMsg:
		m.streaming = false
		m.err = nil
		switch {
		case msg.err == nil:
			m.status = "Answered"
		case errors.Is(msg.err, context.Canceled):
			m.status = "Cancelled"
		case errors.Is(msg.err, session.ErrIdleTimeout):
			m.status = "Stream timed out"
			m.err = msg.err
		default:
			m.status = "Stream failed"
			m.err = msg.err
		}
		m.logger.Debug().Int("message_id", msg.id).AnErr("cause", msg.err).Msg("session finished")
		m.refresh()
		return m, nil

	case exportMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed"
			return m, nil
		}
		m.err = nil
		m.status = "Exported to " + msg.path
		return m, nil

	case copyMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Copy failed"
			return m, nil
		}
		m.err = nil
		m.status = "Copied answer with sources"
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.ctrl.Cancel()
			return m, tea.Quit
		}
		if m.findMode {
			return m.updateFind(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Submit):
			cmd := m.submit()
			return m, cmd
		case key.Matches(msg, m.keys.Find):
			m.findMode = true
			m.input.Blur()
			m.find.SetValue(m.findQuery)
			m.find.CursorEnd()
			cmd := m.find.Focus()
			return m, cmd
		case key.Matches(msg, m.keys.NextMatch):
			m.jump(1)
			return m, nil
		case key.Matches(msg, m.keys.PrevMatch):
			m.jump(-1)
			return m, nil
		case key.Matches(msg, m.keys.Esc):
			m.clearFind()
			return m, nil
		case key.Matches(msg, m.keys.Up):
			m.viewport.LineUp(1)
			m.follow = m.viewport.AtBottom()
			return m, nil
		case key.Matches(msg, m.keys.Down):
			m.viewport.LineDown(1)
			m.follow = m.viewport.AtBottom()
			return m, nil
		case key.Matches(msg, m.keys.PageUp):
			m.viewport.HalfViewUp()
			m.follow = m.viewport.AtBottom()
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.viewport.HalfViewDown()
			m.follow = m.viewport.AtBottom()
			return m, nil
		case key.Matches(msg, m.keys.Export):
			cmd := m.exportCmd()
			return m, cmd
		case key.Matches(msg, m.keys.Copy):
			cmd := m.copyCmd()
			return m, cmd
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize()
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) updateFind(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Esc):
		m.clearFind()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		m.findMode = false
		m.find.Blur()
		m.input.Focus()
		return m, nil
	case key.Matches(msg, m.keys.NextMatch):
		m.jump(1)
		return m, nil
	case key.Matches(msg, m.keys.PrevMatch):
		m.jump(-1)
		return m, nil
	}

	var cmd tea.Cmd
	m.find, cmd = m.find.Update(msg)
	if q := m.find.Value(); q != m.findQuery {
		m.findQuery = q
		m.refresh()
		m.jump(0)
	}
	return m, cmd
}

func (m *Model) clearFind() {
	m.findMode = false
	m.findQuery = ""
	m.find.SetValue("")
	m.find.Blur()
	m.input.Focus()
	m.status = ""
	m.refresh()
}

func (m *Model) submit() tea.Cmd {
	s, err := m.ctrl.Submit(m.input.Value())
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		return nil
	case errors.Is(err, session.ErrBusy):
		m.status = "Still answering, please wait"
		return nil
	case err != nil:
		m.input.Reset()
		m.status = "Could not reach the server"
		m.err = err
		m.follow = true
		m.refresh()
		return nil
	}

	m.input.Reset()
	m.streaming = true
	m.follow = true
	m.status = ""
	m.err = nil
	m.refresh()
	return tea.Batch(runSession(m.ctx, s), m.spinner.Tick)
}

func runSession(ctx context.Context, s *session.Session) tea.Cmd {
	return func() tea.Msg {
		err := s.Run(ctx)
		return sessionDoneMsg{id: s.MessageID(), err: err}
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return storeChangedMsg{}
	}
}

func (m *Model) exportCmd() tea.Cmd {
	if m.exporter == nil {
		m.status = "Export is not configured"
		return nil
	}
	msgs := m.store.Messages()
	token, _ := m.ctrl.Checkpoint().Get()
	exporter := m.exporter
	m.status = "Exporting..."
	return func() tea.Msg {
		path, err := exporter.Export(msgs, token)
		return exportMsg{path: path, err: err}
	}
}

func (m *Model) copyCmd() tea.Cmd {
	question, answer, ok := clipboard.LastAnswer(m.store.Messages())
	if !ok {
		m.status = "Nothing to copy yet"
		return nil
	}
	text := clipboard.AnswerSnippet(question, answer)
	parent := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, 3*time.Second)
		defer cancel()
		return copyMsg{err: clipboard.Copy(ctx, text)}
	}
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	helpHeight := lipgloss.Height(m.help.View(m.keys))
	// status line, input panel (3 rows with border), viewport border (2 rows)
	vpHeight := m.height - 1 - 3 - 2 - helpHeight
	if vpHeight < 3 {
		vpHeight = 3
	}
	vpWidth := m.width - 4
	if vpWidth < 20 {
		vpWidth = 20
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.input.Width = vpWidth - len(m.input.Prompt) - 1
	m.find.Width = vpWidth - len(m.find.Prompt) - 1
	m.help.Width = m.width

	if m.rendererWidth != vpWidth {
		m.renderer = m.newRenderer(vpWidth)
		m.rendererWidth = vpWidth
		m.markdownCache.Purge()
	}
}

func (m *Model) newRenderer(width int) *glamour.TermRenderer {
	wrap := width - 2
	if wrap < 20 {
		wrap = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		m.logger.Warn().Err(err).Str("style", m.style).Msg("markdown renderer unavailable")
		return nil
	}
	return r
}

func (m *Model) markdown(content string) string {
	if content == "" {
		return ""
	}
	if out, ok := m.markdownCache.Get(content); ok {
		return out
	}
	out := content
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(content); err == nil {
			out = strings.Trim(rendered, "\n")
		}
	}
	m.markdownCache.Add(content, out)
	return out
}

// refresh re-renders the conversation from the store and reapplies the
// find highlight, keeping the current match when it still exists.
func (m *Model) refresh() {
	m.messages = m.store.Messages()
	content := renderConversation(m.messages, m.viewport.Width, m.markdown, m.spinner.View())

	pos := m.matches.Position()
	m.matches = highlight.Cursor{}
	if q := strings.TrimSpace(m.findQuery); q != "" {
		res := highlight.ApplyANSI(content, q, func(s string) string { return searchMatchStyle.Render(s) })
		content = res.Text
		m.matches = highlight.NewCursor(res)
		if pos > 1 && !m.matches.Empty() {
			m.matches.Move(pos - 1)
		}
	}

	m.viewport.SetContent(content)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) jump(delta int) {
	if m.matches.Empty() {
		if strings.TrimSpace(m.findQuery) != "" {
			m.status = "No matches"
		}
		return
	}
	line := m.matches.Line()
	if delta != 0 {
		line = m.matches.Move(delta)
	}
	m.follow = false
	m.viewport.SetYOffset(clampOffset(line-m.viewport.Height/3, m.viewport.TotalLineCount(), m.viewport.Height))
	m.status = fmt.Sprintf("Match %d/%d", m.matches.Position(), m.matches.Count())
}

func clampOffset(offset, total, height int) int {
	maxOffset := total - height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func (m Model) View() string {
	if m.width == 0 {
		return "Starting..."
	}

	body := panelStyle(false).Width(m.width - 2).Render(m.viewport.View())
	field := m.input.View()
	if m.findMode {
		field = m.find.View()
	}
	input := panelStyle(true).Width(m.width - 2).Render(field)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		body,
		input,
		m.help.View(m.keys),
	)
}

func (m Model) statusLine() string {
	parts := []string{"search-assist"}
	if token, ok := m.ctrl.Checkpoint().Get(); ok {
		parts = append(parts, "thread "+shorten(token, 8))
	}
	parts = append(parts, fmt.Sprintf("%d messages", len(m.messages)))
	if m.streaming {
		parts = append(parts, m.spinner.View()+" answering")
	}
	if m.findQuery != "" {
		parts = append(parts, fmt.Sprintf("find %q %d/%d", m.findQuery, m.matches.Position(), m.matches.Count()))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	if m.err != nil {
		parts = append(parts, "error: "+m.err.Error())
	}
	line := strings.Join(parts, " | ")
	if m.width > 2 {
		line = ansi.Truncate(line, m.width-2, "...")
	}
	return statusStyle.Width(m.width).Render(line)
}
