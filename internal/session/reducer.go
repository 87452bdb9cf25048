package session

import (
	"time"

	"github.com/kalambet/intelwatch/internal/event"
)

// MsgConnectionLost is shown once reconnection is exhausted while the poller
// keeps checking for the final report.
const MsgConnectionLost = "Connection lost. Checking for final report..."

// Policy holds the fixed timings and limits the reducer schedules with.
type Policy struct {
	MaxReconnectAttempts  int
	ReconnectDelay        time.Duration
	CollapseDelay         time.Duration
	BriefingCollapseDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxReconnectAttempts:  3,
		ReconnectDelay:        2 * time.Second,
		CollapseDelay:         time.Second,
		BriefingCollapseDelay: 2 * time.Second,
	}
}

// Source names the delivery path of a status event.
type Source string

const (
	SourceChannel Source = "channel"
	SourcePoller  Source = "poller"
)

// Input is anything the reducer folds into the state.
type Input interface {
	input()
}

// Started binds a fresh session to a submitted job.
type Started struct{ JobID string }

// Aborted ends a session that never got a job, e.g. a rejected submission.
type Aborted struct{ Message string }

// StatusInput carries a classified status event.
type StatusInput struct {
	Event  event.Event
	Source Source
}

type ChannelOpened struct{}

type ChannelClosed struct{ Reason string }

// ChannelErrored reports a channel error. Connecting is true while the
// channel had not opened yet; such errors precede a close.
type ChannelErrored struct {
	Reason     string
	Connecting bool
}

// CollapseDue fires when a scheduled collapse timer elapses.
type CollapseDue struct{ Token CollapseToken }

func (Started) input()        {}
func (Aborted) input()        {}
func (StatusInput) input()    {}
func (ChannelOpened) input()  {}
func (ChannelClosed) input()  {}
func (ChannelErrored) input() {}
func (CollapseDue) input()    {}

// Effect is side-effect work requested by a reduction. The reducer never
// performs it; the session controller does.
type Effect interface {
	effect()
}

type StartPoller struct{}

type StopPoller struct{}

type Reconnect struct {
	Attempt int
	Delay   time.Duration
}

type CancelReconnect struct{}

type ScheduleCollapse struct {
	Token CollapseToken
	Delay time.Duration
}

// CancelCollapses drops every pending collapse timer.
type CancelCollapses struct{}

func (StartPoller) effect()      {}
func (StopPoller) effect()       {}
func (Reconnect) effect()        {}
func (CancelReconnect) effect()  {}
func (ScheduleCollapse) effect() {}
func (CancelCollapses) effect()  {}

// Reducer folds inputs into a state under a fixed policy.
type Reducer struct {
	policy Policy
}

func NewReducer(p Policy) Reducer {
	return Reducer{policy: p}
}

type reduction struct {
	policy  Policy
	next    *State
	effects []Effect
	changed bool
}

func (r *reduction) emit(e Effect) {
	r.effects = append(r.effects, e)
}

// Reduce returns the state after applying in, plus the effects to run. The
// input state is not modified. When the input is a no-op the original state
// is returned unchanged with no effects.
func (rd Reducer) Reduce(s State, in Input) (State, []Effect) {
	next := s.Clone()
	r := &reduction{policy: rd.policy, next: &next}

	switch v := in.(type) {
	case Started:
		r.started(v)
	case Aborted:
		r.aborted(v)
	case ChannelOpened:
		r.channelOpened()
	case ChannelClosed:
		r.channelClosed(v)
	case ChannelErrored:
		r.channelErrored(v)
	case CollapseDue:
		r.changed = next.applyCollapse(v.Token)
	case StatusInput:
		r.status(v)
	}

	if !r.changed {
		return s, nil
	}
	return next, r.effects
}

func (r *reduction) started(v Started) {
	s := r.next
	s.JobID = v.JobID
	s.Status = StatusConnecting
	s.StatusLine = StatusLine{Step: "Connecting", Message: "Waiting for research updates..."}
	r.changed = true
}

func (r *reduction) aborted(v Aborted) {
	s := r.next
	if s.HasFinalReport {
		return
	}
	s.Status = StatusFailed
	s.Error = v.Message
	r.halt()
}

func (r *reduction) channelOpened() {
	s := r.next
	if !s.Status.Active() || s.HasFinalReport {
		return
	}
	s.Connection.ReconnectAttempts = 0
	s.Connection.LastError = ""
	if s.Status == StatusConnecting || s.Status == StatusDegraded {
		s.Status = StatusProcessing
	}
	if s.Error == MsgConnectionLost {
		s.Error = ""
	}
	r.changed = true
}

func (r *reduction) channelErrored(v ChannelErrored) {
	s := r.next
	if !s.Status.Active() || s.HasFinalReport {
		return
	}
	// Never user-visible: a close always follows and drives recovery.
	s.Connection.LastError = v.Reason
	r.changed = true
}

func (r *reduction) channelClosed(v ChannelClosed) {
	s := r.next
	if !s.Status.Active() || s.HasFinalReport {
		return
	}
	if v.Reason != "" {
		s.Connection.LastError = v.Reason
	}
	r.emit(StartPoller{})
	if s.Connection.ReconnectAttempts < r.policy.MaxReconnectAttempts {
		s.Connection.ReconnectAttempts++
		r.emit(Reconnect{Attempt: s.Connection.ReconnectAttempts, Delay: r.policy.ReconnectDelay})
	} else {
		s.Status = StatusDegraded
		s.Error = MsgConnectionLost
	}
	r.changed = true
}

func (r *reduction) status(in StatusInput) {
	s := r.next
	if s.HasFinalReport || !s.Status.Active() || in.Event == nil {
		return
	}
	r.changed = true
	if s.Status == StatusConnecting {
		s.Status = StatusProcessing
	}

	switch e := in.Event.(type) {
	case event.Processing:
		s.Notice = ""
		// A Curation line stays until another Curation line replaces it.
		if s.StatusLine.Step != event.StepCuration || e.Step == event.StepCuration {
			s.StatusLine = StatusLine{Step: orDefault(e.Step, "Processing"), Message: orDefault(e.Message, "Processing...")}
		}
		r.enterStep(e.Step)
		if e.Step == event.StepCuration && e.DocCounts != nil {
			s.reconcileCuration(e.DocCounts)
		}

	case event.EmailGenerating:
		s.Email.Generating = true
		s.StatusLine = StatusLine{Step: "Generating Email", Message: orDefault(e.Message, "Generating personalized outreach email...")}

	case event.EmailReady:
		s.Email.Generating = false
		if e.Text != "" {
			s.Email.Text = e.Text
		}

	case event.ProposalGenerating:
		s.Proposal.Generating = true
		s.StatusLine = StatusLine{Step: "Generating Proposal", Message: orDefault(e.Message, "Generating partnership proposal...")}

	case event.ProposalReady:
		s.Proposal.Generating = false
		if e.Text != "" {
			s.Proposal.Text = e.Text
		}

	case event.QueryGenerating:
		key := QueryKey{Category: e.Category, Number: e.Number}
		if s.hasQuery(key) {
			return
		}
		s.StreamingQueries[key] = StreamingQuery{Text: e.Text}
		if ps := s.Panels[PanelQueries]; !ps.Visible && !PhaseSearch.Before(s.Phase) {
			s.showPanel(PanelQueries)
		}

	case event.QueryGenerated:
		key := QueryKey{Category: e.Category, Number: e.Number}
		text := e.Text
		if sq, ok := s.StreamingQueries[key]; ok {
			if text == "" {
				text = sq.Text
			}
			delete(s.StreamingQueries, key)
		}
		if !s.hasQuery(key) {
			s.Queries = append(s.Queries, Query{Text: text, Number: e.Number, Category: e.Category})
		}

	case event.EnrichmentStart:
		s.startEnrichment(e)
	case event.Extracted:
		s.markExtracted(e.Category)
	case event.ExtractionError:
		s.dropExtraction(e.Category)
	case event.CategoryComplete:
		s.reconcileEnrichment(e)
	case event.CurationStart:
		s.startCuration(e)
	case event.DocumentKept:
		s.keepDocument(e.DocType)
	case event.CurationComplete:
		s.reconcileCuration(e.DocCounts)

	case event.BriefingStart:
		s.StatusLine = StatusLine{Step: "Briefing", Message: e.Message}

	case event.BriefingComplete:
		done, known := s.BriefingStatus[e.Category]
		if !known || done {
			return
		}
		s.BriefingStatus[e.Category] = true
		if s.allBriefingsComplete() && s.Panels[PanelBriefing].Pending == 0 {
			r.scheduleCollapse(PanelBriefing, r.policy.BriefingCollapseDelay)
		}

	case event.ReportChunk:
		s.Report += e.Chunk

	case event.Completed:
		s.HasFinalReport = true
		if e.Report != "" {
			s.Report = e.Report
		}
		s.Phase = PhaseComplete
		s.Status = StatusComplete
		s.Email.Generating = false
		s.Proposal.Generating = false
		s.StatusLine = StatusLine{Step: "Complete", Message: "Research completed successfully"}
		s.Error = ""
		s.Notice = ""
		r.halt()

	case event.Failure:
		if !e.Halts() {
			s.Notice = e.Message
			return
		}
		s.Error = e.Message
		s.Status = StatusFailed
		r.halt()
	}
}

// halt stops every background activity tied to the run.
func (r *reduction) halt() {
	r.next.settlePanels()
	r.emit(StopPoller{})
	r.emit(CancelReconnect{})
	r.emit(CancelCollapses{})
	r.changed = true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
