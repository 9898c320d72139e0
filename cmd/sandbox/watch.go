package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sandboxruntime "github.com/wippyai/sandbox-runtime"
	"github.com/wippyai/sandbox-runtime/nanny"
)

const (
	refreshInterval = 250 * time.Millisecond
	tailLines       = 12
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	outputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#666666")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type tickMsg time.Time

type doneMsg struct {
	err error
}

type watchModel struct {
	err     error
	sb      *sandboxruntime.Sandbox
	run     func() error
	cancel  context.CancelFunc
	table   table.Model
	spinner spinner.Model
	tail    string
	done    bool
}

func newWatchModel(sb *sandboxruntime.Sandbox, run func() error, cancel context.CancelFunc) *watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Resource", Width: 14},
			{Title: "Used", Width: 14},
			{Title: "Limit", Width: 14},
			{Title: "%", Width: 6},
		}),
		table.WithHeight(12),
	)
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := &watchModel{sb: sb, run: run, cancel: cancel, table: t, spinner: s}
	m.refresh()
	return m
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tick(),
		func() tea.Msg { return doneMsg{err: m.run()} },
	)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done {
				m.cancel()
				return m, nil
			}
			return m, tea.Quit
		}
	case tickMsg:
		m.refresh()
		if m.done {
			return m, nil
		}
		return m, tick()
	case doneMsg:
		m.done = true
		m.err = msg.err
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) refresh() {
	m.table.SetRows(reportRows(m.sb.Nanny.Resources()))
	m.tail = lastLines(string(m.sb.Misc.Tail()), tailLines)
}

func (m *watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("sandbox " + m.sb.ID[:8]))
	b.WriteString("  ")
	b.WriteString(m.sb.Nanny.Runtime().Truncate(time.Millisecond).String())
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	if m.tail != "" {
		b.WriteString(outputStyle.Render(m.tail))
		b.WriteString("\n")
	}

	switch {
	case !m.done:
		b.WriteString(m.spinner.View() + " running")
		b.WriteString(helpStyle.Render("  q: stop"))
	case m.err != nil:
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString(helpStyle.Render("  q: quit"))
	default:
		b.WriteString(resultStyle.Render("finished"))
		b.WriteString(helpStyle.Render("  q: quit"))
	}
	b.WriteString("\n")
	return b.String()
}

// reportRows renders usage against limits, one row per limited
// resource, plus a row per item resource holding items.
func reportRows(r nanny.Report) []table.Row {
	names := make([]nanny.Name, 0, len(r.Limits))
	for name := range r.Limits {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([]table.Row, 0, len(names)+len(r.Items))
	for _, name := range names {
		limit, used := r.Limits[name], r.Usage[name]
		pct := "-"
		if limit > 0 {
			pct = fmt.Sprintf("%.0f", 100*used/limit)
		}
		rows = append(rows, table.Row{string(name), formatQuantity(used), formatQuantity(limit), pct})
	}
	for _, name := range []nanny.Name{nanny.MessPort, nanny.ConnPort} {
		if items := r.Items[name]; len(items) > 0 {
			rows = append(rows, table.Row{string(name), fmt.Sprint(items), fmt.Sprint(r.Allowed[name]), ""})
		}
	}
	return rows
}

func formatQuantity(v float64) string {
	switch {
	case v >= 1<<30:
		return fmt.Sprintf("%.1fG", v/(1<<30))
	case v >= 1<<20:
		return fmt.Sprintf("%.1fM", v/(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.1fK", v/(1<<10))
	case v == float64(int64(v)):
		return fmt.Sprintf("%d", int64(v))
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// watchRun runs the guest while showing live usage. It returns once
// the user quits after the guest has finished.
func watchRun(ctx context.Context, sb *sandboxruntime.Sandbox, src []byte, entry string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newWatchModel(sb, func() error { return sb.RunModule(ctx, src, entry) }, cancel)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil && !m.done {
		cancel()
		return err
	}
	if wm, ok := final.(*watchModel); ok {
		return wm.err
	}
	return m.err
}
