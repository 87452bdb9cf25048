package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/intelwatch/internal/event"
)

// Panel is a collapsible progress section.
type Panel string

const (
	PanelQueries    Panel = "queries"
	PanelEnrichment Panel = "enrichment"
	PanelBriefing   Panel = "briefing"
)

var allPanels = []Panel{PanelQueries, PanelEnrichment, PanelBriefing}

// PanelState tracks a panel's visibility. Pending is the sequence number of a
// scheduled collapse, zero when none is scheduled.
type PanelState struct {
	Visible  bool   `json:"visible"`
	Expanded bool   `json:"expanded"`
	Pending  uint64 `json:"-"`
}

// CollapseToken identifies one scheduled collapse. It only applies to the
// session instance and schedule that issued it.
type CollapseToken struct {
	Session uuid.UUID
	Panel   Panel
	Seq     uint64
}

var phaseRank = map[Phase]int{
	PhaseNone:       0,
	PhaseSearch:     1,
	PhaseEnrichment: 2,
	PhaseBriefing:   3,
	PhaseComplete:   4,
}

// Before reports whether p comes strictly earlier than q.
func (p Phase) Before(q Phase) bool {
	return phaseRank[p] < phaseRank[q]
}

// advanceTo moves the phase forward. It never moves it back.
func (s *State) advanceTo(p Phase) bool {
	if !s.Phase.Before(p) {
		return false
	}
	s.Phase = p
	return true
}

func (r *reduction) enterStep(step string) {
	s := r.next
	switch step {
	case event.StepSearch:
		if !s.advanceTo(PhaseSearch) {
			return
		}
		s.showPanel(PanelQueries)

	case event.StepEnriching:
		if !s.advanceTo(PhaseEnrichment) {
			return
		}
		s.showPanel(PanelEnrichment)
		r.scheduleCollapse(PanelQueries, r.policy.CollapseDelay)

	case event.StepBriefing:
		if !s.advanceTo(PhaseBriefing) {
			return
		}
		for _, c := range BriefingCategories {
			s.BriefingStatus[c] = false
		}
		s.showPanel(PanelBriefing)
		r.scheduleCollapse(PanelEnrichment, r.policy.CollapseDelay)
	}
}

func (s *State) showPanel(p Panel) {
	ps := s.Panels[p]
	ps.Visible = true
	ps.Expanded = true
	ps.Pending = 0
	s.Panels[p] = ps
}

// scheduleCollapse records a pending collapse and emits the timer effect.
// A later schedule for the same panel supersedes the earlier one.
func (r *reduction) scheduleCollapse(p Panel, delay time.Duration) {
	s := r.next
	ps := s.Panels[p]
	if !ps.Visible || !ps.Expanded {
		return
	}
	s.collapseSeq++
	ps.Pending = s.collapseSeq
	s.Panels[p] = ps
	r.emit(ScheduleCollapse{
		Token: CollapseToken{Session: s.ID, Panel: p, Seq: ps.Pending},
		Delay: delay,
	})
}

func (s *State) applyCollapse(t CollapseToken) bool {
	if t.Session != s.ID {
		return false
	}
	ps, ok := s.Panels[t.Panel]
	if !ok || ps.Pending == 0 || ps.Pending != t.Seq {
		return false
	}
	ps.Expanded = false
	ps.Pending = 0
	s.Panels[t.Panel] = ps
	return true
}

// settlePanels resolves every pending collapse at once. Used on terminal
// transitions so no deferred work outlives the run.
func (s *State) settlePanels() bool {
	had := false
	for p, ps := range s.Panels {
		if ps.Pending == 0 {
			continue
		}
		ps.Expanded = false
		ps.Pending = 0
		s.Panels[p] = ps
		had = true
	}
	return had
}
