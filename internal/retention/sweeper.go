// Package retention prunes finished job outputs on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// Schedule is a cron spec or descriptor such as "@every 1h".
	Schedule string
	MaxAge   time.Duration
	// LocalOutputDir holds one directory per local job.
	LocalOutputDir string
	// ObjectPrefixes are pruned in the object store when one is configured.
	ObjectPrefixes []string
}

type JobPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

type ObjectPruner interface {
	RemoveOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int, error)
}

// Result counts what one sweep removed.
type Result struct {
	Dirs    int
	Objects int
	Jobs    int
}

type Sweeper struct {
	logger  *log.Logger
	cfg     Config
	jobs    JobPruner
	objects ObjectPruner
	cron    *cron.Cron
	now     func() time.Time
}

// NewSweeper validates cfg. jobs and objects may be nil.
func NewSweeper(logger *log.Logger, cfg Config, jobs JobPruner, objects ObjectPruner) (*Sweeper, error) {
	if cfg.MaxAge <= 0 {
		return nil, errors.New("retention max age must be positive")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Sweeper{
		logger:  logger,
		cfg:     cfg,
		jobs:    jobs,
		objects: objects,
		cron:    cron.New(cron.WithLogger(cron.PrintfLogger(logger))),
		now:     time.Now,
	}, nil
}

// Start schedules Sweep and stops the scheduler when ctx ends.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Printf("retention sweep failed err=%v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

// Sweep removes everything older than MaxAge. Every stage runs even when an
// earlier one fails; the errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	var (
		res  Result
		errs []error
	)

	if s.cfg.LocalOutputDir != "" {
		n, err := s.pruneDirs(cutoff)
		res.Dirs = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	if s.objects != nil {
		for _, prefix := range s.cfg.ObjectPrefixes {
			n, err := s.objects.RemoveOlderThan(ctx, prefix, cutoff)
			res.Objects += n
			if err != nil {
				errs = append(errs, fmt.Errorf("prune objects %s: %w", prefix, err))
			}
		}
	}

	if s.jobs != nil {
		ids, err := s.jobs.DeleteFinishedBefore(ctx, cutoff)
		res.Jobs = len(ids)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune jobs: %w", err))
		}
	}

	s.logger.Printf("retention sweep cutoff=%s dirs=%d objects=%d jobs=%d",
		cutoff.UTC().Format(time.RFC3339), res.Dirs, res.Objects, res.Jobs)
	return res, errors.Join(errs...)
}

func (s *Sweeper) pruneDirs(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.cfg.LocalOutputDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read output dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.LocalOutputDir, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove job dir %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
