package queue

import (
	"testing"
	"time"
)

func TestConvertBatchTaskRoundTrip(t *testing.T) {
	payload := ConvertBatchPayload{
		JobID:       "job-123",
		SourceType:  "s3_presigned",
		ObjectKeys:  []string{"uploads/job-123/0000-a.fits", "uploads/job-123/0001-b.fits"},
		FileNames:   []string{"a.fits", "b.fits"},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewConvertBatchTask(payload)
	if err != nil {
		t.Fatalf("NewConvertBatchTask returned error: %v", err)
	}
	if task.Type() != TypeConvertBatch {
		t.Fatalf("expected task type %s, got %s", TypeConvertBatch, task.Type())
	}

	parsed, err := ParseConvertBatchPayload(task)
	if err != nil {
		t.Fatalf("ParseConvertBatchPayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if len(parsed.ObjectKeys) != 2 || parsed.FileNames[1] != "b.fits" {
		t.Fatalf("unexpected parsed payload %+v", parsed)
	}
}

func TestConvertBatchTaskRequiresKeys(t *testing.T) {
	if _, err := NewConvertBatchTask(ConvertBatchPayload{JobID: "job-1"}); err == nil {
		t.Fatal("expected error for empty object keys")
	}
}

func TestTaskTimeoutGrowsWithFiles(t *testing.T) {
	if TaskTimeout(100) <= TaskTimeout(1) {
		t.Fatal("expected larger batches to get longer timeouts")
	}
}

func TestTaskIDDiffersPerStart(t *testing.T) {
	if TaskID("job-1", 1) == TaskID("job-1", 2) {
		t.Fatal("expected each start to get its own task id")
	}
	if TaskID("job-1", 1) != TaskID("job-1", 1) {
		t.Fatal("expected the same start to reuse its task id")
	}
}
