package api

import (
	"context"

	"animeindex/internal/catalog"
	"animeindex/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Task, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	StatsByKind(ctx context.Context) ([]queue.KindStats, error)
	Get(ctx context.Context, id int64) (*queue.Task, error)
}

// CatalogReader abstracts the catalog lookups needed for API queries.
type CatalogReader interface {
	GetWork(ctx context.Context, id int64) (*catalog.Work, error)
	Candidates(ctx context.Context, workID int64) ([]catalog.Candidate, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns tasks matching filter, newest first.
func (s *QueueService) List(ctx context.Context, filter queue.ListFilter) ([]Task, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return SortTasksNewestFirst(FromTasks(tasks)), nil
}

// Stats returns queue counts keyed by status plus the per-kind breakdown.
func (s *QueueService) Stats(ctx context.Context) (QueueStatsResponse, error) {
	if s == nil || s.store == nil {
		return QueueStatsResponse{Counts: MergeQueueStats(nil)}, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return QueueStatsResponse{}, err
	}
	byKind, err := s.store.StatsByKind(ctx)
	if err != nil {
		return QueueStatsResponse{}, err
	}
	return QueueStatsResponse{Counts: MergeQueueStats(stats), ByKind: FromKindStats(byKind)}, nil
}

// Describe fetches a single task. It returns nil when the task does not exist.
func (s *QueueService) Describe(ctx context.Context, id int64) (*Task, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	task, err := s.store.Get(ctx, id)
	if err != nil || task == nil {
		return nil, err
	}
	dto := FromTask(task)
	return &dto, nil
}

// CatalogService exposes read-only catalog lookups returning API DTOs.
type CatalogService struct {
	store CatalogReader
}

// NewCatalogService constructs a CatalogService around the provided reader.
func NewCatalogService(store CatalogReader) *CatalogService {
	if store == nil {
		return nil
	}
	return &CatalogService{store: store}
}

// Describe fetches a work with its candidates. It returns nil when the work
// does not exist.
func (s *CatalogService) Describe(ctx context.Context, id int64) (*WorkResponse, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	work, err := s.store.GetWork(ctx, id)
	if err != nil || work == nil {
		return nil, err
	}
	candidates, err := s.store.Candidates(ctx, id)
	if err != nil {
		return nil, err
	}
	return &WorkResponse{Work: FromWork(work), Candidates: FromCandidates(candidates)}, nil
}
