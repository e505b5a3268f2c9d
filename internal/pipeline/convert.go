package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/fitsfile"
	"github.com/dunamismax/fitsflow/internal/metadata"
	"github.com/dunamismax/fitsflow/internal/render"
	"github.com/dunamismax/fitsflow/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	// Workers bounds how many files convert at once. Zero means NumCPU.
	Workers int
	Render  render.Options
	// ContinueOnRenderFailure keeps the metadata of files whose image could
	// not be rendered. When false such files are left out of the archive.
	ContinueOnRenderFailure bool
}

func DefaultOptions() Options {
	return Options{
		Workers:                 runtime.NumCPU(),
		Render:                  render.DefaultOptions(),
		ContinueOnRenderFailure: true,
	}
}

// Output is the conversion of a single file. ImageBytes is nil when
// rendering failed.
type Output struct {
	FileName     string
	BaseName     string
	ImageBytes   []byte
	MetadataJSON []byte
	Metadata     metadata.Metadata
	Warnings     []metadata.Warning
	Width        int
	Height       int
}

type Converter struct {
	logger   *log.Logger
	renderer *render.Renderer
	opts     Options
	now      func() time.Time
	tracer   trace.Tracer
}

func NewConverter(logger *log.Logger, opts Options) *Converter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Converter{
		logger:   logger,
		renderer: render.NewRenderer(),
		opts:     opts,
		now:      time.Now,
		tracer:   telemetry.Tracer("pipeline"),
	}
}

func (c *Converter) Options() Options {
	return c.opts
}

// Convert decodes one FITS file, normalizes its header and renders it.
// A *ParseError returns an empty Output. A *RenderError is returned together
// with an Output whose metadata is complete and whose ImageBytes is nil.
func (c *Converter) Convert(ctx context.Context, name string, raw []byte) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if !domain.IsFITSName(name) {
		return Output{}, &ParseError{File: name, Err: ErrUnsupportedExtension}
	}

	primary, err := fitsfile.Decode(raw)
	if err != nil {
		return Output{}, &ParseError{File: name, Err: err}
	}
	if primary.NonFinite > 0 {
		c.logger.Printf("replaced non-finite samples file=%s count=%d", name, primary.NonFinite)
	}

	meta, warnings := metadata.Normalize(primary.Header, primary.Image)
	for _, w := range warnings {
		c.logger.Printf("metadata fallback file=%s %s", name, w)
	}

	metaJSON, err := meta.MarshalIndent()
	if err != nil {
		return Output{}, fmt.Errorf("file %s: %w", name, err)
	}

	out := Output{
		FileName:     name,
		BaseName:     BaseName(name),
		MetadataJSON: metaJSON,
		Metadata:     meta,
		Warnings:     warnings,
	}

	res, err := c.renderer.Render(primary.Image, c.opts.Render)
	if err != nil {
		return out, &RenderError{File: name, Err: err}
	}
	out.ImageBytes = res.PNG
	out.Width = res.Width
	out.Height = res.Height
	return out, nil
}

// BaseName strips directories and the extension from name.
func BaseName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "unnamed"
	}
	return base
}
