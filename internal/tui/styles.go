package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#7D56F4")
	colorOK      = lipgloss.Color("#04B575")
	colorWarn    = lipgloss.Color("#F2A900")
	colorErr     = lipgloss.Color("#FF5F87")
	colorMuted   = lipgloss.Color("#767676")
	colorBorder  = lipgloss.Color("#3C3C3C")
	colorPending = lipgloss.Color("#A8A8A8")
)

// styles groups every style the view uses.
type styles struct {
	title      lipgloss.Style
	muted      lipgloss.Style
	ok         lipgloss.Style
	warn       lipgloss.Style
	err        lipgloss.Style
	phaseDone  lipgloss.Style
	phaseNow   lipgloss.Style
	phaseLater lipgloss.Style
	panel      lipgloss.Style
	panelTitle lipgloss.Style
	badge      map[string]lipgloss.Style
	footer     lipgloss.Style
}

func defaultStyles() styles {
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	return styles{
		title:      lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		muted:      lipgloss.NewStyle().Foreground(colorMuted),
		ok:         lipgloss.NewStyle().Foreground(colorOK),
		warn:       lipgloss.NewStyle().Foreground(colorWarn),
		err:        lipgloss.NewStyle().Foreground(colorErr).Bold(true),
		phaseDone:  lipgloss.NewStyle().Foreground(colorOK),
		phaseNow:   lipgloss.NewStyle().Foreground(colorAccent).Bold(true).Underline(true),
		phaseLater: lipgloss.NewStyle().Foreground(colorPending),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().Bold(true),
		badge: map[string]lipgloss.Style{
			"idle":       badge.Foreground(colorMuted),
			"connecting": badge.Foreground(colorPending),
			"processing": badge.Foreground(colorAccent),
			"degraded":   badge.Foreground(colorWarn),
			"complete":   badge.Foreground(colorOK),
			"failed":     badge.Foreground(colorErr),
		},
		footer: lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1),
	}
}
