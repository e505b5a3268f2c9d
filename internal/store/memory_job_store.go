package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/fitsflow/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return cloneJob(job), ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) MarkQueued(_ context.Context, id string, starts int) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = domain.JobStatusQueued
	job.Starts = starts
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Complete(_ context.Context, id string, result JobResult) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = result.Status
	job.ArchiveKey = result.ArchiveKey
	job.Summary = result.Summary
	job.Files = append([]domain.FileStatus(nil), result.Files...)
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

// DeleteFinishedBefore drops terminal jobs last updated before cutoff and
// returns their ids.
func (s *MemoryJobStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, job := range s.jobs {
		if isTerminal(job.Status) && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func isTerminal(status string) bool {
	switch status {
	case domain.JobStatusSucceeded, domain.JobStatusPartial, domain.JobStatusFailed:
		return true
	default:
		return false
	}
}

func cloneJob(job domain.Job) domain.Job {
	job.ObjectKeys = append([]string(nil), job.ObjectKeys...)
	job.FileNames = append([]string(nil), job.FileNames...)
	job.Files = append([]domain.FileStatus(nil), job.Files...)
	return job
}
