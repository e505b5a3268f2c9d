package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeJobs struct {
	cutoff time.Time
}

func (f *fakeJobs) DeleteFinishedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	f.cutoff = cutoff
	return []string{"old-1", "old-2"}, nil
}

type fakeObjects struct {
	prefixes []string
}

func (f *fakeObjects) RemoveOlderThan(_ context.Context, prefix string, _ time.Time) (int, error) {
	f.prefixes = append(f.prefixes, prefix)
	if prefix == "broken" {
		return 0, errors.New("list failed")
	}
	return 3, nil
}

func TestSweepRemovesOldJobDirs(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	oldDir := filepath.Join(root, "job-old")
	newDir := filepath.Join(root, "job-new")
	for _, dir := range []string{oldDir, newDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.Chtimes(oldDir, now.Add(-48*time.Hour), now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(newDir, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	jobs := &fakeJobs{}
	s, err := NewSweeper(nil, Config{MaxAge: 24 * time.Hour, LocalOutputDir: root}, jobs, nil)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.now = func() time.Time { return now }

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dirs != 1 || res.Jobs != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("expected old dir to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("expected new dir to survive: %v", err)
	}
	if !jobs.cutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", jobs.cutoff)
	}
}

func TestSweepContinuesPastObjectErrors(t *testing.T) {
	objects := &fakeObjects{}
	s, err := NewSweeper(nil, Config{
		MaxAge:         time.Hour,
		LocalOutputDir: filepath.Join(t.TempDir(), "missing"),
		ObjectPrefixes: []string{"broken", "outputs"},
	}, nil, objects)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	res, err := s.Sweep(context.Background())
	if err == nil {
		t.Fatal("expected joined error from broken prefix")
	}
	if res.Objects != 3 || len(objects.prefixes) != 2 {
		t.Fatalf("expected second prefix to be pruned, got %+v prefixes=%v", res, objects.prefixes)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s, err := NewSweeper(nil, Config{MaxAge: time.Hour, Schedule: "every tuesday"}, nil, nil)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err == nil {
		t.Fatal("expected invalid schedule error")
	}
}

func TestNewSweeperRequiresMaxAge(t *testing.T) {
	if _, err := NewSweeper(nil, Config{}, nil, nil); err == nil {
		t.Fatal("expected error for zero max age")
	}
}
