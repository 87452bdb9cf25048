package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/intelwatch/internal/session"
)

const maxQueryLines = 8

var phases = []session.Phase{
	session.PhaseSearch,
	session.PhaseEnrichment,
	session.PhaseBriefing,
	session.PhaseComplete,
}

// render draws a session. spin is the current spinner frame and report the
// pre-rendered report body, if any.
func render(s session.State, st styles, spin string, width int, report string) string {
	var b strings.Builder

	title := st.title.Render("intelwatch")
	if s.JobID != "" {
		title += st.muted.Render("  job " + s.JobID)
	}
	b.WriteString(title + "\n")
	b.WriteString(statusBadge(s, st, spin) + "\n")
	b.WriteString(phaseRow(s.Phase, st) + "\n")

	if s.Notice != "" {
		b.WriteString(st.warn.Render("! "+s.Notice) + "\n")
	}
	if s.Error != "" {
		style := st.err
		if s.Status != session.StatusFailed {
			style = st.warn
		}
		b.WriteString(style.Render(s.Error) + "\n")
	}

	panelWidth := max(0, width-4)
	if p := s.Panels[session.PanelQueries]; p.Visible {
		b.WriteString(panel(st, panelWidth, "Search queries", p.Expanded, queriesSummary(s), queriesBody(s, st)))
	}
	if p := s.Panels[session.PanelEnrichment]; p.Visible {
		b.WriteString(panel(st, panelWidth, "Curation & enrichment", p.Expanded, enrichmentSummary(s), enrichmentBody(s, st)))
	}
	if p := s.Panels[session.PanelBriefing]; p.Visible {
		b.WriteString(panel(st, panelWidth, "Briefings", p.Expanded, briefingSummary(s), briefingBody(s, st, spin)))
	}

	if line := artifactLine(s, st, spin); line != "" {
		b.WriteString(line + "\n")
	}

	if report != "" {
		b.WriteString("\n" + report)
	} else if s.Report != "" {
		b.WriteString("\n" + st.muted.Render(tail(s.Report, 6)) + "\n")
	}
	return b.String()
}

func statusBadge(s session.State, st styles, spin string) string {
	badge, ok := st.badge[string(s.Status)]
	if !ok {
		badge = st.muted
	}
	out := badge.Render(strings.ToUpper(string(s.Status)))
	if s.Status.Active() {
		out = spin + " " + out
	}
	if msg := s.StatusLine.Message; msg != "" {
		out += " " + msg
	}
	if n := s.Connection.ReconnectAttempts; n > 0 {
		out += st.muted.Render(fmt.Sprintf("  (reconnect %d)", n))
	}
	return out
}

func phaseRow(current session.Phase, st styles) string {
	parts := make([]string, len(phases))
	for i, p := range phases {
		label := string(p)
		switch {
		case p == current:
			parts[i] = st.phaseNow.Render(label)
		case p.Before(current):
			parts[i] = st.phaseDone.Render("✓ " + label)
		default:
			parts[i] = st.phaseLater.Render(label)
		}
	}
	return strings.Join(parts, st.muted.Render(" → "))
}

func panel(st styles, width int, title string, expanded bool, summary, body string) string {
	head := st.panelTitle.Render(title)
	if summary != "" {
		head += st.muted.Render("  " + summary)
	}
	content := head
	if expanded && body != "" {
		content += "\n" + body
	}
	box := st.panel
	if width > 0 {
		box = box.Width(width)
	}
	return box.Render(content) + "\n"
}

func queriesSummary(s session.State) string {
	n := len(s.Queries)
	if n == 1 {
		return "1 query"
	}
	return fmt.Sprintf("%d queries", n)
}

func queriesBody(s session.State, st styles) string {
	var lines []string
	for _, q := range s.Queries {
		lines = append(lines, fmt.Sprintf("%s %s", st.muted.Render(fmt.Sprintf("[%s #%d]", q.Category, q.Number)), q.Text))
	}
	if len(lines) > maxQueryLines {
		hidden := len(lines) - maxQueryLines
		lines = append(lines[:maxQueryLines], st.muted.Render(fmt.Sprintf("… %d more", hidden)))
	}
	for _, q := range s.StreamingList() {
		lines = append(lines, st.phaseNow.Render(fmt.Sprintf("[%s #%d]", q.Category, q.Number))+" "+q.Text+"▍")
	}
	return strings.Join(lines, "\n")
}

func enrichmentSummary(s session.State) string {
	var kept, initial, enriched, total int
	for _, c := range s.DocCounts {
		kept += c.Kept
		initial += c.Initial
	}
	for _, c := range s.EnrichmentCounts {
		enriched += c.Enriched
		total += c.Total
	}
	var parts []string
	if initial > 0 {
		parts = append(parts, fmt.Sprintf("kept %d/%d", kept, initial))
	}
	if total > 0 {
		parts = append(parts, fmt.Sprintf("enriched %d/%d", enriched, total))
	}
	return strings.Join(parts, ", ")
}

func enrichmentBody(s session.State, st styles) string {
	var lines []string
	for _, k := range sortedKeys(s.DocCounts) {
		c := s.DocCounts[k]
		lines = append(lines, fmt.Sprintf("%-10s %s kept %d/%d", k, bar(c.Kept, c.Initial, 12, st), c.Kept, c.Initial))
	}
	for _, k := range sortedKeys(s.EnrichmentCounts) {
		c := s.EnrichmentCounts[k]
		lines = append(lines, fmt.Sprintf("%-10s %s enriched %d/%d", k, bar(c.Enriched, c.Total, 12, st), c.Enriched, c.Total))
	}
	return strings.Join(lines, "\n")
}

func briefingSummary(s session.State) string {
	done := 0
	for _, c := range session.BriefingCategories {
		if s.BriefingStatus[c] {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(session.BriefingCategories))
}

func briefingBody(s session.State, st styles, spin string) string {
	parts := make([]string, len(session.BriefingCategories))
	for i, c := range session.BriefingCategories {
		if s.BriefingStatus[c] {
			parts[i] = st.ok.Render("✓ " + c)
		} else if s.Status.Active() {
			parts[i] = st.muted.Render(spin + " " + c)
		} else {
			parts[i] = st.muted.Render("· " + c)
		}
	}
	return strings.Join(parts, "   ")
}

func artifactLine(s session.State, st styles, spin string) string {
	var parts []string
	for _, a := range []struct {
		name string
		art  session.Artifact
	}{{"email", s.Email}, {"proposal", s.Proposal}} {
		switch {
		case a.art.Text != "":
			parts = append(parts, st.ok.Render("✓ "+a.name+" ready"))
		case a.art.Generating:
			parts = append(parts, st.muted.Render(spin+" writing "+a.name))
		}
	}
	return strings.Join(parts, "   ")
}

func bar(n, total, width int, st styles) string {
	if total <= 0 {
		return st.muted.Render(strings.Repeat("░", width))
	}
	filled := min(width, n*width/total)
	return st.ok.Render(strings.Repeat("█", filled)) + st.muted.Render(strings.Repeat("░", width-filled))
}

func tail(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
