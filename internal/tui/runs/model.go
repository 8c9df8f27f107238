package runs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/githubdeploy/internal/history"
)

// Source supplies the runs to display; history.Store satisfies it.
type Source interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

const (
	defaultRefresh = 2 * time.Second
	defaultLimit   = 50
	fetchTimeout   = 5 * time.Second
)

type entriesMsg []history.Entry
type tickMsg time.Time
type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// Model is the BubbleTea model for the runs TUI.
type Model struct {
	source  Source
	limit   int
	refresh time.Duration

	width  int
	height int

	entries  []history.Entry
	table    table.Model
	detail   viewport.Model
	theme    Theme
	lastLoad time.Time

	lastError string
}

// New creates a runs model polling source every refresh interval.
func New(source Source, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Started", Width: 19},
			{Title: "Event", Width: 12},
			{Title: "Stage", Width: 20},
			{Title: "Reason", Width: 18},
			{Title: "Duration", Width: 10},
			{Title: "Run", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		source:  source,
		limit:   defaultLimit,
		refresh: refresh,
		table:   t,
		detail:  viewport.New(80, 8),
		theme:   NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetch(),
		tea.EnterAltScreen,
	)
}

func (m Model) fetch() tea.Cmd {
	source, limit := m.source, m.limit
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		entries, err := source.Recent(ctx, limit)
		if err != nil {
			return errMsg{err}
		}
		return entriesMsg(entries)
	}
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		m.detail.Width = m.width - 6
		m.detail.Height = m.height / 3

	case entriesMsg:
		m.entries = msg
		m.lastLoad = time.Now()
		m.lastError = ""
		m.table.SetRows(m.rows())
		m.detail.SetContent(m.renderDetail())
		return m, m.scheduleRefresh()

	case errMsg:
		m.lastError = msg.Error()
		return m, m.scheduleRefresh()

	case tickMsg:
		return m, m.fetch()
	}

	m.table, cmd = m.table.Update(msg)
	m.detail.SetContent(m.renderDetail())
	return m, cmd
}

func (m Model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.entries))
	for _, e := range m.entries {
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		rows = append(rows, table.Row{
			m.statusSymbol(e.Outcome),
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			orDash(e.Event),
			e.Stage,
			reason,
			e.Duration().Round(time.Millisecond).String(),
			id,
		})
	}
	return rows
}

func (m Model) statusSymbol(o history.Outcome) string {
	switch o {
	case history.OutcomeSucceeded:
		return m.theme.Succeeded.Render("●")
	case history.OutcomeAborted:
		return m.theme.Aborted.Render("∅")
	default:
		return "○"
	}
}

// selected returns the entry under the table cursor.
func (m Model) selected() (history.Entry, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.entries) {
		return history.Entry{}, false
	}
	return m.entries[i], true
}

func (m Model) renderDetail() string {
	e, ok := m.selected()
	if !ok {
		return m.theme.Dim.Render("no runs recorded yet")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run %s  delivery %s\n", e.ID, orDash(e.DeliveryID))
	if e.LastError != "" {
		fmt.Fprintf(&b, "%s\n", m.theme.Aborted.Render("error: "+e.LastError))
	}
	if len(e.Commands) == 0 {
		b.WriteString(m.theme.Dim.Render("no commands executed"))
		return b.String()
	}
	for _, c := range e.Commands {
		code := fmt.Sprintf("exit %d", c.ExitCode)
		if c.ExitCode != 0 {
			code = m.theme.NonZero.Render(code)
		}
		fmt.Fprintf(&b, "%-6s %-8s %8s  %s\n", c.Phase, code, c.Duration.Round(time.Millisecond), c.Command)
	}
	return b.String()
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading deploy history..."
	}

	title := m.theme.Title.Render("githubdeploy runs")
	if !m.lastLoad.IsZero() {
		title += m.theme.Dim.Render(fmt.Sprintf(" updated %s", m.lastLoad.Format("15:04:05")))
	}

	parts := []string{
		title,
		m.theme.Border.Render(m.table.View()),
		m.theme.Border.Render(m.detail.View()),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Aborted.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
