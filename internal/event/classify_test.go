package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(data string) []byte {
	return []byte(`{"type":"status_update","data":` + data + `}`)
}

func TestClassify_RecognisedKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want Event
	}{
		{
			name: "processing search",
			raw:  frame(`{"status":"processing","message":"Searching","result":{"step":"Search"}}`),
			want: Processing{Step: StepSearch, Message: "Searching"},
		},
		{
			name: "processing curation with doc counts",
			raw:  frame(`{"status":"processing","result":{"step":"Curation","doc_counts":{"news":{"initial":4,"kept":0}}}}`),
			want: Processing{Step: StepCuration, DocCounts: map[string]DocCount{"news": {Initial: 4}}},
		},
		{
			name: "email generator step",
			raw:  frame(`{"status":"processing","message":"Drafting","result":{"step":"EmailGenerator"}}`),
			want: EmailGenerating{Message: "Drafting"},
		},
		{
			name: "proposal generator step",
			raw:  frame(`{"status":"processing","result":{"step":"ProposalGenerator"}}`),
			want: ProposalGenerating{},
		},
		{
			name: "query generating",
			raw:  frame(`{"status":"query_generating","result":{"category":"company","query_number":1,"query":"acme rev"}}`),
			want: QueryGenerating{Category: "company", Number: 1, Text: "acme rev"},
		},
		{
			name: "query generated with string number",
			raw:  frame(`{"status":"query_generated","result":{"category":"company","query_number":"2","query":"acme ceo"}}`),
			want: QueryGenerated{Category: "company", Number: 2, Text: "acme ceo"},
		},
		{
			name: "enrichment category start",
			raw:  frame(`{"status":"category_start","result":{"step":"Enriching","category":"company","count":5}}`),
			want: EnrichmentStart{Category: "company", Count: 5},
		},
		{
			name: "curation category start by step",
			raw:  frame(`{"status":"category_start","result":{"step":"Curation","doc_type":"news","initial_count":7}}`),
			want: CurationStart{DocType: "news", InitialCount: 7},
		},
		{
			name: "curation category start by doc_type only",
			raw:  frame(`{"status":"category_start","result":{"doc_type":"news","initial_count":3}}`),
			want: CurationStart{DocType: "news", InitialCount: 3},
		},
		{
			name: "extracted",
			raw:  frame(`{"status":"extracted","result":{"category":"company"}}`),
			want: Extracted{Category: "company"},
		},
		{
			name: "extraction error",
			raw:  frame(`{"status":"extraction_error","result":{"category":"company"}}`),
			want: ExtractionError{Category: "company"},
		},
		{
			name: "category complete",
			raw:  frame(`{"status":"category_complete","result":{"category":"company","total":5,"enriched":4}}`),
			want: CategoryComplete{Category: "company", Total: 5, Enriched: 4},
		},
		{
			name: "document kept",
			raw:  frame(`{"status":"document_kept","result":{"doc_type":"news"}}`),
			want: DocumentKept{DocType: "news"},
		},
		{
			name: "curation complete",
			raw:  frame(`{"status":"curation_complete","result":{"doc_counts":{"news":{"initial":4,"kept":2}}}}`),
			want: CurationComplete{DocCounts: map[string]DocCount{"news": {Initial: 4, Kept: 2}}},
		},
		{
			name: "briefing start",
			raw:  frame(`{"status":"briefing_start","message":"Briefing company","result":{"category":"company"}}`),
			want: BriefingStart{Category: "company", Message: "Briefing company"},
		},
		{
			name: "briefing complete",
			raw:  frame(`{"status":"briefing_complete","result":{"category":"news"}}`),
			want: BriefingComplete{Category: "news"},
		},
		{
			name: "email ready",
			raw:  frame(`{"status":"email_ready","result":{"email":"Hi"}}`),
			want: EmailReady{Text: "Hi"},
		},
		{
			name: "proposal ready",
			raw:  frame(`{"status":"proposal_ready","result":{"proposal":"Deal"}}`),
			want: ProposalReady{Text: "Deal"},
		},
		{
			name: "report chunk",
			raw:  frame(`{"status":"report_chunk","result":{"chunk":"## Acme"}}`),
			want: ReportChunk{Chunk: "## Acme"},
		},
		{
			name: "completed",
			raw:  frame(`{"status":"completed","result":{"report":"FINAL"}}`),
			want: Completed{Report: "FINAL"},
		},
		{
			name: "failed prefers error over message",
			raw:  frame(`{"status":"failed","message":"m","error":"boom"}`),
			want: Failure{Status: KindFailed, Message: "boom"},
		},
		{
			name: "error falls back to default message",
			raw:  frame(`{"status":"error"}`),
			want: Failure{Status: KindError, Message: "Research failed"},
		},
		{
			name: "continuable website error",
			raw:  frame(`{"status":"website_error","message":"site down","result":{"continue_research":true}}`),
			want: Failure{Status: KindWebsiteError, Message: "site down", ContinueResearch: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.raw)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_DropsUnrecognised(t *testing.T) {
	inputs := map[string][]byte{
		"not json":              []byte(`{"type":`),
		"wrong envelope":        []byte(`{"type":"heartbeat","data":{"status":"processing"}}`),
		"missing data":          []byte(`{"type":"status_update"}`),
		"unknown kind":          frame(`{"status":"teleporting"}`),
		"query without number":  frame(`{"status":"query_generating","result":{"category":"company"}}`),
		"query bad number":      frame(`{"status":"query_generated","result":{"category":"company","query_number":"x"}}`),
		"extracted no category": frame(`{"status":"extracted","result":{}}`),
		"doc counts wrong type": frame(`{"status":"curation_complete","result":{"doc_counts":[1,2]}}`),
		"empty chunk":           frame(`{"status":"report_chunk","result":{"chunk":""}}`),
		"data is a string":      []byte(`{"type":"status_update","data":"completed"}`),
	}

	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Nil(t, Classify(raw))
			})
		})
	}
}

func TestFromStatusDocument_PollDocument(t *testing.T) {
	ev := FromStatusDocument([]byte(`{"status":"completed","result":{"report":"X"},"company":"Acme"}`))
	assert.Equal(t, Completed{Report: "X"}, ev)

	assert.Nil(t, FromStatusDocument([]byte(`{"status":"pending"}`)))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Completed{}))
	assert.True(t, IsTerminal(Failure{Status: KindFailed}))
	assert.True(t, IsTerminal(Failure{Status: KindWebsiteError}))
	assert.False(t, IsTerminal(Failure{Status: KindWebsiteError, ContinueResearch: true}))
	assert.False(t, IsTerminal(ReportChunk{Chunk: "x"}))
}
