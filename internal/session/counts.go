package session

import "github.com/kalambet/intelwatch/internal/event"

// The aggregation rules below keep two independent counter families:
// enrichment (category -> total/enriched) and curation (doc type ->
// initial/kept). Client-side increments are provisional; the server totals
// in category_complete and curation_complete always win.

func (s *State) startEnrichment(e event.EnrichmentStart) {
	s.EnrichmentCounts[e.Category] = EnrichmentCount{Total: max(0, e.Count)}
}

func (s *State) markExtracted(category string) {
	c, ok := s.EnrichmentCounts[category]
	if !ok {
		return
	}
	c.Enriched = min(c.Enriched+1, c.Total)
	s.EnrichmentCounts[category] = c
}

// dropExtraction removes a failed document from the cohort.
func (s *State) dropExtraction(category string) {
	c, ok := s.EnrichmentCounts[category]
	if !ok {
		return
	}
	c.Total = max(0, c.Total-1)
	c.Enriched = min(c.Enriched, c.Total)
	s.EnrichmentCounts[category] = c
}

func (s *State) reconcileEnrichment(e event.CategoryComplete) {
	total := max(0, e.Total)
	s.EnrichmentCounts[e.Category] = EnrichmentCount{
		Total:    total,
		Enriched: min(max(0, e.Enriched), total),
	}
}

func (s *State) startCuration(e event.CurationStart) {
	s.DocCounts[e.DocType] = DocCount{Initial: max(0, e.InitialCount)}
}

// keepDocument only counts doc types that were announced by category_start.
func (s *State) keepDocument(docType string) bool {
	c, ok := s.DocCounts[docType]
	if !ok {
		return false
	}
	c.Kept = min(c.Kept+1, c.Initial)
	s.DocCounts[docType] = c
	return true
}

func (s *State) reconcileCuration(counts map[string]event.DocCount) {
	next := make(map[string]DocCount, len(counts))
	for docType, c := range counts {
		initial := max(0, c.Initial)
		next[docType] = DocCount{Initial: initial, Kept: min(max(0, c.Kept), initial)}
	}
	s.DocCounts = next
}
