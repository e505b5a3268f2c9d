package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/fitsflow/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// File is one named input of a batch.
type File struct {
	Name string
	Data []byte
}

type BatchResult struct {
	Archive  []byte
	Statuses []domain.FileStatus
	Summary  domain.Summary
}

type fileResult struct {
	out Output
	err error
}

// ConvertBatch converts files concurrently and packages the results into a
// single ZIP. Entries and statuses follow input order. A failing file never
// aborts the batch; only an archive failure does, reported as *ArchiveError
// alongside the statuses gathered so far.
func (c *Converter) ConvertBatch(ctx context.Context, files []File) (BatchResult, error) {
	results := make([]chan fileResult, len(files))
	for i := range results {
		results[i] = make(chan fileResult, 1)
	}

	workers := c.opts.Workers
	if workers > len(files) {
		workers = len(files)
	}

	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				out, err := c.convertOne(ctx, files[i])
				results[i] <- fileResult{out: out, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range files {
			select {
			case <-ctx.Done():
				for j := i; j < len(files); j++ {
					results[j] <- fileResult{err: ctx.Err()}
				}
				return
			case jobs <- i:
			}
		}
	}()

	var buf bytes.Buffer
	archive := newArchiveWriter(&buf, c.now().UTC())
	statuses := make([]domain.FileStatus, 0, len(files))
	var archiveErr error

	for i, f := range files {
		res := <-results[i]
		status := c.statusFor(f.Name, res)

		if archiveErr == nil && status.Outcome != domain.OutcomeError {
			png, meta := res.out.ImageBytes, res.out.MetadataJSON
			if status.Outcome == domain.OutcomeRenderFailed && !c.opts.ContinueOnRenderFailure {
				meta = nil
			}
			if png != nil || meta != nil {
				entries, err := archive.add(res.out.BaseName, png, meta)
				status.Entries = entries
				if err != nil {
					archiveErr = err
				}
			}
		}
		statuses = append(statuses, status)
	}

	summary := domain.Summarize(statuses)
	if archiveErr != nil {
		return BatchResult{Statuses: statuses, Summary: summary}, &ArchiveError{Err: archiveErr}
	}
	if err := archive.close(); err != nil {
		return BatchResult{Statuses: statuses, Summary: summary}, &ArchiveError{Err: err}
	}

	c.logger.Printf("batch converted total=%d succeeded=%d render_failed=%d failed=%d archive_bytes=%d",
		summary.Total, summary.Succeeded, summary.RenderFailed, summary.Failed, buf.Len())

	return BatchResult{
		Archive:  buf.Bytes(),
		Statuses: statuses,
		Summary:  summary,
	}, nil
}

func (c *Converter) convertOne(ctx context.Context, f File) (out Output, err error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.convert_file")
	defer span.End()
	span.SetAttributes(
		attribute.String("fits.file_name", f.Name),
		attribute.Int("fits.input_bytes", len(f.Data)),
	)

	defer func() {
		if r := recover(); r != nil {
			out = Output{}
			err = &ParseError{File: f.Name, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return c.Convert(ctx, f.Name, f.Data)
}

func (c *Converter) statusFor(name string, res fileResult) domain.FileStatus {
	status := domain.FileStatus{FileName: name, Outcome: domain.OutcomeSuccess}

	var renderErr *RenderError
	switch {
	case res.err == nil:
	case errors.As(res.err, &renderErr):
		status.Outcome = domain.OutcomeRenderFailed
		status.Detail = renderErr.Err.Error()
		c.logger.Printf("render failed file=%s err=%v", name, renderErr.Err)
	default:
		status.Outcome = domain.OutcomeError
		status.Detail = res.err.Error()
		c.logger.Printf("convert failed file=%s err=%v", name, res.err)
		return status
	}

	if len(res.out.Warnings) > 0 {
		notes := make([]string, 0, len(res.out.Warnings))
		for _, w := range res.out.Warnings {
			notes = append(notes, w.String())
		}
		if status.Detail != "" {
			status.Detail += "; "
		}
		status.Detail += strings.Join(notes, "; ")
	}
	return status
}
