package event

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// EnvelopeTypeStatus is the only envelope type the push channel delivers
// status events under.
const EnvelopeTypeStatus = "status_update"

// Envelope is the push-channel frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StatusEvent is the loosely-typed wire payload. The poll endpoint returns a
// document of the same shape.
type StatusEvent struct {
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// Result is the union of every field any status kind may carry.
type Result struct {
	Step             string              `json:"step,omitempty"`
	Category         string              `json:"category,omitempty"`
	Query            string              `json:"query,omitempty"`
	QueryNumber      *Int                `json:"query_number,omitempty"`
	Count            *Int                `json:"count,omitempty"`
	Total            *Int                `json:"total,omitempty"`
	Enriched         *Int                `json:"enriched,omitempty"`
	InitialCount     *Int                `json:"initial_count,omitempty"`
	DocType          string              `json:"doc_type,omitempty"`
	DocCounts        map[string]DocCount `json:"doc_counts,omitempty"`
	Email            string              `json:"email,omitempty"`
	Proposal         string              `json:"proposal,omitempty"`
	Report           string              `json:"report,omitempty"`
	Chunk            string              `json:"chunk,omitempty"`
	ContinueResearch bool                `json:"continue_research,omitempty"`
}

// Int accepts JSON numbers and numeric strings; the backend is not
// consistent about which one it sends.
type Int int

func (n *Int) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*n = Int(f)
	return nil
}

func (n *Int) value() int {
	if n == nil {
		return 0
	}
	return int(*n)
}

// Classify parses a raw push-channel frame. It returns nil for anything it
// does not recognise: malformed JSON, other envelope types, unknown status
// kinds, or known kinds missing their required fields.
func Classify(raw []byte) Event {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	if env.Type != EnvelopeTypeStatus || len(env.Data) == 0 {
		return nil
	}
	return FromStatusDocument(env.Data)
}

// FromStatusDocument classifies a bare status event, as returned by the poll
// endpoint.
func FromStatusDocument(raw []byte) Event {
	var se StatusEvent
	if err := json.Unmarshal(raw, &se); err != nil {
		return nil
	}
	return FromStatusEvent(se)
}

// FromStatusEvent maps a decoded wire payload onto its typed event.
func FromStatusEvent(se StatusEvent) Event {
	r := se.Result
	if r == nil {
		r = &Result{}
	}

	switch Kind(se.Status) {
	case KindProcessing:
		switch r.Step {
		case StepEmailGenerator:
			return EmailGenerating{Message: se.Message}
		case StepProposalGenerator:
			return ProposalGenerating{Message: se.Message}
		}
		return Processing{Step: r.Step, Message: se.Message, DocCounts: r.DocCounts}

	case KindQueryGenerating, KindQueryGenerated:
		if r.Category == "" || r.QueryNumber.value() <= 0 {
			return nil
		}
		if Kind(se.Status) == KindQueryGenerating {
			return QueryGenerating{Category: r.Category, Number: r.QueryNumber.value(), Text: r.Query}
		}
		return QueryGenerated{Category: r.Category, Number: r.QueryNumber.value(), Text: r.Query}

	case KindCategoryStart:
		if r.Step == StepCuration || (r.DocType != "" && r.Category == "") {
			if r.DocType == "" {
				return nil
			}
			return CurationStart{DocType: r.DocType, InitialCount: r.InitialCount.value()}
		}
		if r.Category == "" {
			return nil
		}
		return EnrichmentStart{Category: r.Category, Count: r.Count.value()}

	case KindExtracted:
		if r.Category == "" {
			return nil
		}
		return Extracted{Category: r.Category}

	case KindExtractionError:
		if r.Category == "" {
			return nil
		}
		return ExtractionError{Category: r.Category}

	case KindCategoryComplete:
		if r.Category == "" {
			return nil
		}
		return CategoryComplete{Category: r.Category, Total: r.Total.value(), Enriched: r.Enriched.value()}

	case KindDocumentKept:
		if r.DocType == "" {
			return nil
		}
		return DocumentKept{DocType: r.DocType}

	case KindCurationComplete:
		if r.DocCounts == nil {
			return nil
		}
		return CurationComplete{DocCounts: r.DocCounts}

	case KindBriefingStart:
		return BriefingStart{Category: r.Category, Message: se.Message}

	case KindBriefingComplete:
		if r.Category == "" {
			return nil
		}
		return BriefingComplete{Category: r.Category}

	case KindEmailReady:
		return EmailReady{Text: r.Email}

	case KindProposalReady:
		return ProposalReady{Text: r.Proposal}

	case KindReportChunk:
		if r.Chunk == "" {
			return nil
		}
		return ReportChunk{Chunk: r.Chunk}

	case KindCompleted:
		return Completed{Report: r.Report}

	case KindFailed, KindError, KindWebsiteError:
		msg := se.Error
		if msg == "" {
			msg = se.Message
		}
		if msg == "" {
			msg = "Research failed"
		}
		return Failure{Status: Kind(se.Status), Message: msg, ContinueResearch: r.ContinueResearch}
	}

	return nil
}
