// Package session holds the research session state and the pure reducer that
// folds classified status events into it.
package session

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Status is the coarse lifecycle of a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusProcessing Status = "processing"
	StatusDegraded   Status = "degraded"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Active reports whether the session is still waiting on the backend.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusProcessing || s == StatusDegraded
}

// Phase is the coarse stage of the job. The zero value means no phase yet.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseSearch     Phase = "search"
	PhaseEnrichment Phase = "enrichment"
	PhaseBriefing   Phase = "briefing"
	PhaseComplete   Phase = "complete"
)

// BriefingCategories is the fixed set of briefing sections.
var BriefingCategories = []string{"company", "industry", "financial", "news"}

// Query is a completed search query.
type Query struct {
	Text     string `json:"text"`
	Number   int    `json:"number"`
	Category string `json:"category"`
}

// QueryKey identifies a query across its streaming and completed forms.
type QueryKey struct {
	Category string
	Number   int
}

// StreamingQuery is a query still being generated.
type StreamingQuery struct {
	Text       string `json:"text"`
	IsComplete bool   `json:"is_complete"`
}

type DocCount struct {
	Initial int `json:"initial"`
	Kept    int `json:"kept"`
}

type EnrichmentCount struct {
	Total    int `json:"total"`
	Enriched int `json:"enriched"`
}

// Artifact is an optional generated document such as the outreach email.
type Artifact struct {
	Text       string `json:"text,omitempty"`
	Generating bool   `json:"generating"`
}

// StatusLine is the last human-readable progress line.
type StatusLine struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

type Connection struct {
	ReconnectAttempts int    `json:"reconnect_attempts"`
	LastError         string `json:"last_error,omitempty"`
}

// State is one research session. It is only ever replaced by Reduce; every
// other component reads copies.
type State struct {
	ID               uuid.UUID                   `json:"id"`
	JobID            string                      `json:"job_id"`
	Status           Status                      `json:"status"`
	Phase            Phase                       `json:"phase"`
	StatusLine       StatusLine                  `json:"status_line"`
	Queries          []Query                     `json:"queries"`
	StreamingQueries map[QueryKey]StreamingQuery `json:"-"`
	DocCounts        map[string]DocCount         `json:"doc_counts"`
	EnrichmentCounts map[string]EnrichmentCount `json:"enrichment_counts"`
	BriefingStatus   map[string]bool             `json:"briefing_status"`
	Report           string                      `json:"report"`
	Email            Artifact                    `json:"email"`
	Proposal         Artifact                    `json:"proposal"`
	Panels           map[Panel]PanelState        `json:"panels"`
	Connection       Connection                  `json:"connection"`
	Error            string                      `json:"error,omitempty"`
	Notice           string                      `json:"notice,omitempty"`
	HasFinalReport   bool                        `json:"has_final_report"`

	collapseSeq uint64
}

// New returns a fresh idle session with its own instance id.
func New() State {
	s := State{
		ID:               uuid.New(),
		Status:           StatusIdle,
		Queries:          []Query{},
		StreamingQueries: make(map[QueryKey]StreamingQuery),
		DocCounts:        make(map[string]DocCount),
		EnrichmentCounts: make(map[string]EnrichmentCount),
		BriefingStatus:   make(map[string]bool, len(BriefingCategories)),
		Panels:           make(map[Panel]PanelState, len(allPanels)),
	}
	for _, c := range BriefingCategories {
		s.BriefingStatus[c] = false
	}
	for _, p := range allPanels {
		s.Panels[p] = PanelState{Expanded: true}
	}
	return s
}

// Clone returns a deep copy safe to hand to readers.
func (s State) Clone() State {
	c := s
	c.Queries = slices.Clone(s.Queries)
	if c.Queries == nil {
		c.Queries = []Query{}
	}
	c.StreamingQueries = maps.Clone(s.StreamingQueries)
	c.DocCounts = maps.Clone(s.DocCounts)
	c.EnrichmentCounts = maps.Clone(s.EnrichmentCounts)
	c.BriefingStatus = maps.Clone(s.BriefingStatus)
	c.Panels = maps.Clone(s.Panels)
	return c
}

// StreamingList returns the in-progress queries ordered by category and number.
func (s State) StreamingList() []Query {
	out := make([]Query, 0, len(s.StreamingQueries))
	for k, q := range s.StreamingQueries {
		out = append(out, Query{Text: q.Text, Number: k.Number, Category: k.Category})
	}
	slices.SortFunc(out, func(a, b Query) int {
		if a.Category != b.Category {
			if a.Category < b.Category {
				return -1
			}
			return 1
		}
		return a.Number - b.Number
	})
	return out
}

func (s State) hasQuery(k QueryKey) bool {
	return slices.ContainsFunc(s.Queries, func(q Query) bool {
		return q.Category == k.Category && q.Number == k.Number
	})
}

func (s State) allBriefingsComplete() bool {
	for _, c := range BriefingCategories {
		if !s.BriefingStatus[c] {
			return false
		}
	}
	return true
}
