package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/storage"
)

const DefaultOutputPrefix = "outputs"

type ObjectStoreFetcher struct {
	Storage  *storage.Client
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request, key string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, key, f.MaxBytes)
}

// ObjectStoreEmitter writes {prefix}/{job}/converted.zip and report.json.
type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, archive []byte, report Report) (string, string, error) {
	if e.Storage == nil {
		return "", "", errors.New("storage client is required")
	}

	jobPrefix := path.Join(defaultOutputPrefix(e.OutputPrefix), SanitizePathToken(req.JobID))

	archiveKey := path.Join(jobPrefix, ArchiveFileName)
	if err := e.Storage.WriteObject(ctx, archiveKey, archive, "application/zip"); err != nil {
		return "", "", err
	}

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode report: %w", err)
	}
	reportKey := path.Join(jobPrefix, ReportFileName)
	if err := e.Storage.WriteObject(ctx, reportKey, reportJSON, "application/json"); err != nil {
		return "", "", err
	}

	return archiveKey, reportKey, nil
}

// NewObjectStoreProcessor reads s3_presigned uploads from the bucket and
// writes results back under outputPrefix.
func NewObjectStoreProcessor(logger *log.Logger, opts Options, client *storage.Client, outputPrefix string, maxBytes int64) *Processor {
	return NewProcessor(
		ObjectStoreFetcher{Storage: client, MaxBytes: maxBytes},
		NewConverter(logger, opts),
		ObjectStoreEmitter{Storage: client, OutputPrefix: outputPrefix},
	)
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return DefaultOutputPrefix
	}
	return prefix
}
