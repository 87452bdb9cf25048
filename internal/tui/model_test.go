package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/intelwatch/internal/session"
)

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func searching() session.State {
	s := session.New()
	s.JobID = "job-42"
	s.Status = session.StatusProcessing
	s.Phase = session.PhaseSearch
	s.StatusLine = session.StatusLine{Step: "Search", Message: "Generating search queries"}
	s.Queries = []session.Query{{Text: "acme overview", Number: 1, Category: "company"}}
	s.StreamingQueries[session.QueryKey{Category: "news", Number: 1}] = session.StreamingQuery{Text: "acme latest"}
	s.Panels[session.PanelQueries] = session.PanelState{Visible: true, Expanded: true}
	return s
}

func TestRender_ExpandedAndCollapsedPanels(t *testing.T) {
	s := searching()
	out := Summary(s, 80)
	assert.Contains(t, out, "job-42")
	assert.Contains(t, out, "PROCESSING")
	assert.Contains(t, out, "Generating search queries")
	assert.Contains(t, out, "acme overview")
	assert.Contains(t, out, "acme latest")
	assert.NotContains(t, out, "Briefings")

	s.Panels[session.PanelQueries] = session.PanelState{Visible: true, Expanded: false}
	out = Summary(s, 80)
	assert.Contains(t, out, "1 query")
	assert.NotContains(t, out, "acme overview")
}

func TestRender_Counts(t *testing.T) {
	s := searching()
	s.Phase = session.PhaseEnrichment
	s.DocCounts["company"] = session.DocCount{Initial: 4, Kept: 2}
	s.EnrichmentCounts["company"] = session.EnrichmentCount{Total: 2, Enriched: 1}
	s.Panels[session.PanelEnrichment] = session.PanelState{Visible: true, Expanded: true}

	out := Summary(s, 80)
	assert.Contains(t, out, "kept 2/4")
	assert.Contains(t, out, "enriched 1/2")
}

func TestRender_FailureAndNotice(t *testing.T) {
	s := searching()
	s.Notice = "Could not crawl company website"
	out := Summary(s, 80)
	assert.Contains(t, out, "Could not crawl company website")

	s.Status = session.StatusFailed
	s.Error = "Extraction service unavailable"
	out = Summary(s, 80)
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "Extraction service unavailable")
}

func TestModel_StateUpdates(t *testing.T) {
	updates := make(chan session.State, 1)
	m := New(context.Background(), session.New(), updates, Options{ExitOnFinish: true})

	updates <- searching()
	msg := m.waitForUpdate()()
	next, cmd := m.Update(msg)
	m = next.(Model)
	assert.Equal(t, "job-42", m.State().JobID)
	require.NotNil(t, cmd)

	done := searching()
	done.Status = session.StatusComplete
	done.Phase = session.PhaseComplete
	done.HasFinalReport = true
	done.Report = "# Acme\n\nAll good."
	next, cmd = m.Update(stateMsg(done))
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.report, "Acme")
	assert.Contains(t, m.View(), m.report)
}

func TestModel_WaitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(ctx, session.New(), make(chan session.State), Options{})
	assert.Nil(t, m.waitForUpdate()())
}

func TestModel_Copy(t *testing.T) {
	var copied string
	m := New(context.Background(), session.New(), nil, Options{Copy: func(s string) error {
		copied = s
		return nil
	}})

	next, cmd := m.Update(key("c"))
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "nothing to copy yet")

	s := session.New()
	s.Report = "report body"
	next, _ = m.Update(stateMsg(s))
	m = next.(Model)

	_, cmd = m.Update(key("c"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, "report body", copied)

	next, _ = m.Update(msg)
	assert.Contains(t, next.(Model).View(), "report copied to clipboard")

	next, _ = m.Update(copiedMsg{err: errors.New("no display")})
	assert.Contains(t, next.(Model).View(), "copy failed: no display")
}

func TestModel_ResetAndQuit(t *testing.T) {
	resets := 0
	m := New(context.Background(), searching(), nil, Options{Reset: func() { resets++ }})

	next, _ := m.Update(key("x"))
	m = next.(Model)
	assert.Equal(t, 1, resets)
	assert.Contains(t, m.View(), "session reset")

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
