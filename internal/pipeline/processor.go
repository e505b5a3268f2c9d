package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/fitsflow/internal/domain"
)

const (
	ArchiveFileName = "converted.zip"
	ReportFileName  = "report.json"
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKeys []string
	FileNames  []string
}

// Report is written next to the archive of every processed job.
type Report struct {
	JobID   string              `json:"job_id"`
	Summary domain.Summary      `json:"summary"`
	Files   []domain.FileStatus `json:"files"`
}

type Result struct {
	ArchiveKey   string
	ReportKey    string
	Summary      domain.Summary
	Files        []domain.FileStatus
	InputBytes   int
	ArchiveBytes int
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request, key string) ([]byte, error)
}

type Emitter interface {
	// Emit stores the archive and report and returns their keys.
	Emit(ctx context.Context, req Request, archive []byte, report Report) (archiveKey, reportKey string, err error)
}

type Processor struct {
	fetcher   Fetcher
	converter *Converter
	emitter   Emitter
}

func NewProcessor(fetcher Fetcher, converter *Converter, emitter Emitter) *Processor {
	return &Processor{fetcher: fetcher, converter: converter, emitter: emitter}
}

func NewLocalProcessor(logger *log.Logger, opts Options, outputDir string) *Processor {
	return NewProcessor(LocalFileFetcher{}, NewConverter(logger, opts), LocalFileEmitter{OutputDir: outputDir})
}

// Process fetches every input, converts the batch and emits the archive.
// Inputs that cannot be fetched are reported as failed files.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.ObjectKeys) == 0 {
		return Result{}, errors.New("at least one input is required")
	}

	files := make([]File, 0, len(req.ObjectKeys))
	fetchErrs := make(map[int]error)
	inputBytes := 0
	for i, key := range req.ObjectKeys {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		name := displayName(req, i)
		data, err := p.fetcher.Fetch(ctx, req, key)
		if err != nil {
			fetchErrs[i] = err
			files = append(files, File{Name: name})
			continue
		}
		inputBytes += len(data)
		files = append(files, File{Name: name, Data: data})
	}

	batch, err := p.converter.ConvertBatch(ctx, files)
	if err != nil {
		return Result{Files: batch.Statuses, Summary: batch.Summary}, fmt.Errorf("convert stage: %w", err)
	}

	// fetch failures reach the converter as empty inputs; report the real cause
	if len(fetchErrs) > 0 {
		for i, ferr := range fetchErrs {
			batch.Statuses[i].Outcome = domain.OutcomeError
			batch.Statuses[i].Detail = fmt.Sprintf("fetch: %v", ferr)
			batch.Statuses[i].Entries = nil
		}
		batch.Summary = domain.Summarize(batch.Statuses)
	}

	report := Report{JobID: req.JobID, Summary: batch.Summary, Files: batch.Statuses}
	archiveKey, reportKey, err := p.emitter.Emit(ctx, req, batch.Archive, report)
	if err != nil {
		return Result{Files: batch.Statuses, Summary: batch.Summary}, fmt.Errorf("emit stage: %w", &ArchiveError{Err: err})
	}

	return Result{
		ArchiveKey:   archiveKey,
		ReportKey:    reportKey,
		Summary:      batch.Summary,
		Files:        batch.Statuses,
		InputBytes:   inputBytes,
		ArchiveBytes: len(batch.Archive),
	}, nil
}

func displayName(req Request, i int) string {
	if i < len(req.FileNames) && strings.TrimSpace(req.FileNames[i]) != "" {
		return req.FileNames[i]
	}
	return filepath.Base(req.ObjectKeys[i])
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request, key string) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", key, err)
	}
	return data, nil
}

// LocalFileEmitter writes {OutputDir}/{job}/converted.zip and report.json.
type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, archive []byte, report Report) (string, string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", "", errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, SanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}

	archivePath := filepath.Join(jobDir, ArchiveFileName)
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		return "", "", fmt.Errorf("write archive: %w", err)
	}

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode report: %w", err)
	}
	reportPath := filepath.Join(jobDir, ReportFileName)
	if err := os.WriteFile(reportPath, reportJSON, 0o644); err != nil {
		return "", "", fmt.Errorf("write report: %w", err)
	}

	return archivePath, reportPath, nil
}

// SanitizePathToken keeps [A-Za-z0-9_-] and replaces everything else with _.
func SanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
