package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/fitsflow/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobResult is what a finished batch writes back onto its job.
type JobResult struct {
	Status     string
	ArchiveKey string
	Summary    domain.Summary
	Files      []domain.FileStatus
}

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// MarkQueued records the start number of a freshly enqueued job.
	MarkQueued(ctx context.Context, id string, starts int) (domain.Job, error)
	Complete(ctx context.Context, id string, result JobResult) (domain.Job, error)
}

// PrunableJobStore is a JobStore that retention can sweep.
type PrunableJobStore interface {
	JobStore
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Open returns a Postgres store when dsn is set and an in-memory store
// otherwise. The in-memory store is not shared between processes.
func Open(ctx context.Context, dsn string) (PrunableJobStore, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
