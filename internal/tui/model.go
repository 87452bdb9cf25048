// Package tui renders a live research session with bubbletea.
package tui

import (
	"context"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/kalambet/intelwatch/internal/session"
)

const defaultWidth = 80

// Options configures the progress view.
type Options struct {
	// ExitOnFinish quits once the session completes or fails.
	ExitOnFinish bool
	// Copy writes the report to the clipboard. Defaults to atotto/clipboard.
	Copy func(string) error
	// Reset abandons the tracked session when the user presses x.
	Reset func()
}

type stateMsg session.State

type copiedMsg struct{ err error }

// Model is the bubbletea model of the progress view.
type Model struct {
	ctx     context.Context
	updates <-chan session.State
	opts    Options
	styles  styles
	spinner spinner.Model

	state    session.State
	width    int
	renderer *glamour.TermRenderer
	report   string
	footer   string
	quitting bool
}

// New builds the view from an initial snapshot and an update stream.
// Waiting on updates stops when ctx is cancelled.
func New(ctx context.Context, initial session.State, updates <-chan session.State, opts Options) Model {
	if opts.Copy == nil {
		opts.Copy = clipboard.WriteAll
	}
	st := defaultStyles()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.title

	m := Model{
		ctx:     ctx,
		updates: updates,
		opts:    opts,
		styles:  st,
		spinner: sp,
		state:   initial,
		width:   defaultWidth,
	}
	m.renderer = newRenderer(m.width)
	m.renderReport()
	return m
}

// State returns the last snapshot the view received.
func (m Model) State() session.State { return m.state }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate())
}

func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-m.updates:
			return stateMsg(s)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "c":
			if m.state.Report == "" {
				m.footer = "nothing to copy yet"
				return m, nil
			}
			report, copyFn := m.state.Report, m.opts.Copy
			return m, func() tea.Msg { return copiedMsg{err: copyFn(report)} }
		case "x":
			if m.opts.Reset != nil && m.state.Status.Active() {
				m.opts.Reset()
				m.footer = "session reset"
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		if msg.Width > 0 && msg.Width != m.width {
			m.width = msg.Width
			m.renderer = newRenderer(m.width)
			m.renderReport()
		}
		return m, nil

	case stateMsg:
		prev := m.state
		m.state = session.State(msg)
		if m.state.HasFinalReport != prev.HasFinalReport || m.state.Report != prev.Report {
			m.renderReport()
		}
		if m.opts.ExitOnFinish && finished(m.state) {
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case copiedMsg:
		if msg.err != nil {
			m.footer = "copy failed: " + msg.err.Error()
		} else {
			m.footer = "report copied to clipboard"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	out := render(m.state, m.styles, m.spinner.View(), m.width, m.report)
	if m.quitting {
		return out
	}
	help := "q quit · c copy report"
	if m.opts.Reset != nil {
		help += " · x reset"
	}
	if m.footer != "" {
		help = m.footer + " · " + help
	}
	return out + m.styles.footer.Render(help) + "\n"
}

// renderReport renders the final report as markdown. Streamed partial
// reports are shown raw.
func (m *Model) renderReport() {
	m.report = ""
	if !m.state.HasFinalReport || m.state.Report == "" || m.renderer == nil {
		return
	}
	out, err := m.renderer.Render(m.state.Report)
	if err != nil {
		m.report = m.state.Report
		return
	}
	m.report = out
}

func finished(s session.State) bool {
	return s.Status == session.StatusComplete || s.Status == session.StatusFailed
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(20, width-4)),
	)
	if err != nil {
		return nil
	}
	return r
}

// RenderReport renders markdown for non-interactive output.
func RenderReport(markdown string, width int) string {
	r := newRenderer(width)
	if r == nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}

// Summary renders a static view of a snapshot, for non-interactive output.
func Summary(s session.State, width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	return render(s, defaultStyles(), "•", width, "")
}
