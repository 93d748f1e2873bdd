package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid job request")
	ErrJobNotFound    = errors.New("job not found")
	ErrNotFound       = errors.New("not found")
	ErrNotRetryable   = errors.New("job is not in a terminal state")
	// ErrJobReleased means a write targeted a job that is no longer
	// downloading, typically because the stale sweep failed it.
	ErrJobReleased = errors.New("job is no longer downloading")
)

// JobService orchestrates job operations.
type JobService struct {
	repo JobRepository
	wake func()
}

// NewJobService creates a new JobService.
func NewJobService(repo JobRepository) *JobService {
	return &JobService{repo: repo, wake: func() {}}
}

// OnSubmit registers a callback fired after a job becomes queued.
func (s *JobService) OnSubmit(fn func()) {
	if fn != nil {
		s.wake = fn
	}
}

// Submit validates and queues a new job.
func (s *JobService) Submit(ctx context.Context, req NewJobRequest) (*Job, error) {
	if req.DownloadType == "" {
		req.DownloadType = DownloadSingle
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.wake()
	return job, nil
}

// Get retrieves a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// List returns the most recent jobs.
func (s *JobService) List(ctx context.Context, limit int) ([]Job, error) {
	return s.repo.List(ctx, limit)
}

// Retry resets a terminal job to queued so it re-enters the pipeline.
func (s *JobService) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, ErrNotRetryable
	}
	if err := s.repo.Reset(ctx, id); err != nil {
		return nil, fmt.Errorf("reset job: %w", err)
	}
	s.wake()
	return s.repo.Get(ctx, id)
}

// RecoverInterrupted re-queues jobs left downloading by a previous process.
func (s *JobService) RecoverInterrupted(ctx context.Context) (int64, error) {
	return s.repo.RecoverInterrupted(ctx)
}
