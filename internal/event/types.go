package event

// Kind is the status kind carried by a status_update envelope.
type Kind string

const (
	KindProcessing         Kind = "processing"
	KindQueryGenerating    Kind = "query_generating"
	KindQueryGenerated     Kind = "query_generated"
	KindCategoryStart      Kind = "category_start"
	KindExtracted          Kind = "extracted"
	KindExtractionError    Kind = "extraction_error"
	KindCategoryComplete   Kind = "category_complete"
	KindDocumentKept       Kind = "document_kept"
	KindCurationComplete   Kind = "curation_complete"
	KindBriefingStart      Kind = "briefing_start"
	KindBriefingComplete   Kind = "briefing_complete"
	KindEmailReady         Kind = "email_ready"
	KindProposalReady      Kind = "proposal_ready"
	KindReportChunk        Kind = "report_chunk"
	KindCompleted          Kind = "completed"
	KindFailed             Kind = "failed"
	KindError              Kind = "error"
	KindWebsiteError       Kind = "website_error"
	KindEmailGenerating    Kind = "email_generating"
	KindProposalGenerating Kind = "proposal_generating"
	KindCurationStart      Kind = "curation_start"
)

// Step names carried in result.step.
const (
	StepSearch            = "Search"
	StepCuration          = "Curation"
	StepEnriching         = "Enriching"
	StepBriefing          = "Briefing"
	StepEmailGenerator    = "EmailGenerator"
	StepProposalGenerator = "ProposalGenerator"
)

// Event is a classified status event. The concrete types below form a closed
// set; consumers switch on the dynamic type.
type Event interface {
	Kind() Kind
}

// DocCount is the curation counter for a single doc type.
type DocCount struct {
	Initial int `json:"initial"`
	Kept    int `json:"kept"`
}

type Processing struct {
	Step    string
	Message string
	// DocCounts is set by the Curation step when it announces its cohort.
	DocCounts map[string]DocCount
}

type EmailGenerating struct{ Message string }

type ProposalGenerating struct{ Message string }

type QueryGenerating struct {
	Category string
	Number   int
	Text     string
}

type QueryGenerated struct {
	Category string
	Number   int
	Text     string
}

type EnrichmentStart struct {
	Category string
	Count    int
}

type Extracted struct{ Category string }

type ExtractionError struct{ Category string }

type CategoryComplete struct {
	Category string
	Total    int
	Enriched int
}

type CurationStart struct {
	DocType      string
	InitialCount int
}

type DocumentKept struct{ DocType string }

type CurationComplete struct {
	DocCounts map[string]DocCount
}

type BriefingStart struct {
	Category string
	Message  string
}

type BriefingComplete struct{ Category string }

type EmailReady struct{ Text string }

type ProposalReady struct{ Text string }

type ReportChunk struct{ Chunk string }

// Completed is the terminal success event. Report may be empty when the
// backend relied on streamed chunks.
type Completed struct{ Report string }

// Failure covers failed, error and website_error.
type Failure struct {
	Status           Kind
	Message          string
	ContinueResearch bool
}

// Halts reports whether the failure ends the research run.
func (f Failure) Halts() bool {
	return !(f.Status == KindWebsiteError && f.ContinueResearch)
}

func (Processing) Kind() Kind         { return KindProcessing }
func (EmailGenerating) Kind() Kind    { return KindEmailGenerating }
func (ProposalGenerating) Kind() Kind { return KindProposalGenerating }
func (QueryGenerating) Kind() Kind    { return KindQueryGenerating }
func (QueryGenerated) Kind() Kind     { return KindQueryGenerated }
func (EnrichmentStart) Kind() Kind    { return KindCategoryStart }
func (Extracted) Kind() Kind          { return KindExtracted }
func (ExtractionError) Kind() Kind    { return KindExtractionError }
func (CategoryComplete) Kind() Kind   { return KindCategoryComplete }
func (CurationStart) Kind() Kind      { return KindCurationStart }
func (DocumentKept) Kind() Kind       { return KindDocumentKept }
func (CurationComplete) Kind() Kind   { return KindCurationComplete }
func (BriefingStart) Kind() Kind      { return KindBriefingStart }
func (BriefingComplete) Kind() Kind   { return KindBriefingComplete }
func (EmailReady) Kind() Kind         { return KindEmailReady }
func (ProposalReady) Kind() Kind      { return KindProposalReady }
func (ReportChunk) Kind() Kind        { return KindReportChunk }
func (Completed) Kind() Kind          { return KindCompleted }
func (f Failure) Kind() Kind          { return f.Status }

// IsTerminal reports whether ev ends the research run.
func IsTerminal(ev Event) bool {
	switch e := ev.(type) {
	case Completed:
		return true
	case Failure:
		return e.Halts()
	}
	return false
}
