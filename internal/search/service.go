package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Indexer pushes records into a search index.
type Indexer interface {
	IndexRecords(records []Record) error
	DeleteRecord(id string) error
	Healthy() bool
}

// Service is the facade that tries Meilisearch first and falls back to the
// database search.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{fallback: fallback, logger: logger.Named("search")}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	return s
}

// Search tries the primary index if healthy, otherwise the fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to database", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Hit{}, Query: q.Text, Source: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("database search failed", zap.Error(err))
		return Response{Results: []Hit{}, Total: 0, Query: q.Text, Source: "database"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "database"}
}

// Index pushes one record in the background.
func (s *Service) Index(rec Record) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.indexer.IndexRecords([]Record{rec}); err != nil {
			s.logger.Warn("index document", zap.String("id", rec.ID), zap.Error(err))
		}
	}()
}

// Remove drops one document from the index in the background.
func (s *Service) Remove(id string) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.indexer.DeleteRecord(id); err != nil {
			s.logger.Warn("delete document from index", zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes records synchronously. Called at startup.
func (s *Service) ReindexAll(records []Record) {
	if s.indexer == nil || !s.indexer.Healthy() || len(records) == 0 {
		return
	}
	if err := s.indexer.IndexRecords(records); err != nil {
		s.logger.Warn("reindex documents", zap.Int("count", len(records)), zap.Error(err))
	}
}

// Wait blocks until background index updates are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Hit) []Hit {
	if r == nil {
		return []Hit{}
	}
	return r
}
