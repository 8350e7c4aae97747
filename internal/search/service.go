package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to PG
// FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSubmission indexes a confirmed submission (fire-and-forget to
// Meilisearch; the PG fallback reads the rows directly).
func (s *Service) IndexSubmission(rec SubmissionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSubmission(rec); err != nil {
			log.Printf("search: index submission %s: %v", rec.ID, err)
		}
	}()
}

// ReindexAllFromPG pushes every confirmed submission into Meilisearch.
// Called during bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG() {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	recs, err := s.pgfts.LoadAllRecords()
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(recs) > 0 {
		if err := s.meili.IndexSubmissions(recs); err != nil {
			log.Printf("search: reindex submissions: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
