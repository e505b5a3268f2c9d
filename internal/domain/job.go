package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusPartial    = "partial"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	MaxFilesPerJob = 500
)

type CreateJobRequest struct {
	SourceType string   `json:"source_type"`
	WebhookURL string   `json:"webhook_url,omitempty"`
	ObjectKeys []string `json:"object_keys,omitempty"`
	FileNames  []string `json:"file_names,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKeys []string
	FileNames  []string
	ArchiveKey string
	Summary    Summary
	Files      []FileStatus
	// Starts counts successful enqueues of the job.
	Starts     int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsFITSName reports whether name carries a .fit or .fits extension.
func IsFITSName(name string) bool {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".fit", ".fits":
		return true
	default:
		return false
	}
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	names := r.FileNames
	if sourceType == SourceTypeLocalFile {
		if len(r.ObjectKeys) == 0 {
			return errors.New("object_keys is required for source_type=local_file")
		}
		names = r.ObjectKeys
	}
	if len(names) == 0 {
		return errors.New("file_names must contain at least one file")
	}
	if len(names) > MaxFilesPerJob {
		return fmt.Errorf("at most %d files per job, got %d", MaxFilesPerJob, len(names))
	}
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("file[%d] name is required", i)
		}
		if !IsFITSName(name) {
			return fmt.Errorf("file[%d] %q must end in .fit or .fits", i, name)
		}
	}
	return nil
}
