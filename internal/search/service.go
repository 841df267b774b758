package search

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"prdigy/api/internal/roadmap"
)

// Index is a search backend that also accepts writes.
type Index interface {
	Searcher
	IndexItems(items []ItemRecord) error
	DeleteItems(ids []string) error
	DeleteRoadmap(roadmapID string) error
}

// Service is the facade that tries the index first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
	items    func(ctx context.Context) ([]ItemRecord, error)
	logger   *log.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Index, pgfts *PgFTS, logger *log.Logger) *Service {
	s := &Service{index: index, logger: logger}
	if pgfts != nil {
		s.fallback = pgfts
		s.items = pgfts.LoadAllItems
	}
	return s
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("index search failed, falling back to pgfts", "err", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// async runs fn in the background when the index is up. Failures are logged.
func (s *Service) async(what string, fn func() error) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(); err != nil {
			s.logger.Warn("index write failed", "op", what, "err", err)
		}
	}()
}

// IndexTree pushes a roadmap and all of its items.
func (s *Service) IndexTree(tree roadmap.Tree) {
	records := TreeRecords(tree)
	s.async("index tree", func() error { return s.index.IndexItems(records) })
}

func (s *Service) IndexItem(item ItemRecord) {
	s.async("index item", func() error { return s.index.IndexItems([]ItemRecord{item}) })
}

func (s *Service) RemoveItems(ids ...string) {
	s.async("delete items", func() error { return s.index.DeleteItems(ids) })
}

func (s *Service) RemoveRoadmap(roadmapID string) {
	s.async("delete roadmap", func() error { return s.index.DeleteRoadmap(roadmapID) })
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAllFromPG pushes every item in PostgreSQL into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.items == nil {
		return
	}
	items, err := s.items(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "err", err)
		return
	}
	if err := s.index.IndexItems(items); err != nil {
		s.logger.Error("reindex failed", "err", err)
		return
	}
	s.logger.Info("reindexed roadmap items", "count", len(items))
}

// TreeRecords flattens a roadmap tree into index records.
func TreeRecords(tree roadmap.Tree) []ItemRecord {
	rm := tree.Roadmap
	records := []ItemRecord{{
		ID:          rm.ID,
		Kind:        ResultRoadmap,
		RoadmapID:   rm.ID,
		Title:       rm.Name,
		Description: rm.Description,
		Status:      string(rm.Status),
	}}
	for _, epic := range tree.Epics {
		records = append(records, EpicRecord(epic))
		for _, feature := range epic.Features {
			records = append(records, FeatureRecord(feature))
			for _, task := range feature.Tasks {
				records = append(records, TaskRecord(rm.ID, task))
			}
		}
	}
	return records
}

func EpicRecord(e roadmap.Epic) ItemRecord {
	return ItemRecord{ID: e.ID, Kind: ResultEpic, RoadmapID: e.RoadmapID, Title: e.Title, Description: e.Description, Status: string(e.Status)}
}

func FeatureRecord(f roadmap.Feature) ItemRecord {
	return ItemRecord{ID: f.ID, Kind: ResultFeature, RoadmapID: f.RoadmapID, Title: f.Title, Description: f.Description, Status: string(f.Status)}
}

func TaskRecord(roadmapID string, t roadmap.Task) ItemRecord {
	return ItemRecord{ID: t.ID, Kind: ResultTask, RoadmapID: roadmapID, Title: t.Title, Description: t.Description, Status: string(t.Status)}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
