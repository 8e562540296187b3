package api

import (
	"context"

	"conveyor/internal/jobstore"
)

// JobReader abstracts the persistence interactions needed for API queries.
type JobReader interface {
	List(ctx context.Context, phases ...jobstore.Phase) ([]*jobstore.Job, error)
	GetByID(ctx context.Context, id int64) (*jobstore.Job, error)
	StageRuns(ctx context.Context, jobID int64) ([]*jobstore.StageRun, error)
	Stats(ctx context.Context) (map[jobstore.Phase]int, error)
}

// JobService exposes read-only job queries returning API DTOs.
type JobService struct {
	store JobReader
}

// NewJobService constructs a JobService around the provided reader.
func NewJobService(store JobReader) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// List returns jobs filtered by phase.
func (s *JobService) List(ctx context.Context, phases ...jobstore.Phase) ([]JobView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.List(ctx, phases...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Describe fetches one job with its stage run history, nil when absent.
func (s *JobService) Describe(ctx context.Context, id int64) (*JobView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetByID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	view := FromJob(job)
	runs, err := s.store.StageRuns(ctx, id)
	if err != nil {
		return nil, err
	}
	view.StageRuns = FromStageRuns(runs)
	return &view, nil
}

// Stats returns normalized job counts.
func (s *JobService) Stats(ctx context.Context) (StatsView, error) {
	if s == nil || s.store == nil {
		return StatsView{}, nil
	}
	counts, err := s.store.Stats(ctx)
	if err != nil {
		return StatsView{}, err
	}
	return FromStats(counts), nil
}
