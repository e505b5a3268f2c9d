// Command fitsconv converts FITS files into a ZIP of PNG renderings and JSON
// metadata without the API or queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/dunamismax/fitsflow/internal/config"
	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/pipeline"
	"github.com/dunamismax/fitsflow/internal/render"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run returns 1 on failure or when no input converted, and 2 on usage errors.
// Errors are logged rather than fatal so deferred cleanup always runs.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := log.New(stderr, "[fitsconv] ", log.LstdFlags|log.Lmsgprefix)

	fs := flag.NewFlagSet("fitsconv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outPath     = fs.String("o", pipeline.ArchiveFileName, "output archive path")
		reportPath  = fs.String("report", "", "optional path for the JSON conversion report")
		workers     = fs.Int("workers", cfg.Convert.Workers, "files converted concurrently")
		sizeInches  = fs.Float64("size", cfg.Convert.RenderSizeInches, "rendered image edge in inches (0 keeps native size)")
		dpi         = fs.Int("dpi", cfg.Convert.RenderDPI, "rendered image resolution")
		skipRenders = fs.Bool("skip-render-failures", !cfg.Convert.ContinueOnRenderFailure, "leave files whose image fails to render out of the archive")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: fitsconv [flags] <file.fits|dir>...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	files, err := loadInputs(fs.Args())
	if err != nil {
		logger.Printf("load inputs: %v", err)
		return 1
	}

	if err := render.Startup(); err != nil {
		logger.Printf("render runtime startup: %v", err)
		return 1
	}
	defer render.Shutdown()

	converter := pipeline.NewConverter(logger, pipeline.Options{
		Workers:                 *workers,
		Render:                  render.Options{SizeInches: *sizeInches, DPI: *dpi},
		ContinueOnRenderFailure: !*skipRenders,
	})
	result, err := converter.ConvertBatch(ctx, files)
	if err != nil {
		logger.Printf("convert: %v", err)
		return 1
	}

	if err := os.WriteFile(*outPath, result.Archive, 0o644); err != nil {
		logger.Printf("write archive: %v", err)
		return 1
	}
	if *reportPath != "" {
		if err := writeReport(*reportPath, result); err != nil {
			logger.Printf("write report: %v", err)
			return 1
		}
	}

	printStatuses(stdout, result.Statuses)
	logger.Printf("archive=%s total=%d succeeded=%d render_failed=%d failed=%d",
		*outPath, result.Summary.Total, result.Summary.Succeeded, result.Summary.RenderFailed, result.Summary.Failed)

	if result.Summary.Failed == result.Summary.Total {
		return 1
	}
	return 0
}

func loadInputs(args []string) ([]pipeline.File, error) {
	paths, err := collectInputs(args)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no FITS files found")
	}
	if len(paths) > domain.MaxFilesPerJob {
		return nil, fmt.Errorf("too many files count=%d max=%d", len(paths), domain.MaxFilesPerJob)
	}

	files := make([]pipeline.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, pipeline.File{Name: filepath.Base(path), Data: data})
	}
	return files, nil
}

// collectInputs expands directories into the FITS files they hold directly.
// Explicit file arguments are kept even without a FITS extension so the
// converter can report them.
func collectInputs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, entry := range entries {
			if entry.Type().IsRegular() && domain.IsFITSName(entry.Name()) {
				found = append(found, filepath.Join(arg, entry.Name()))
			}
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	return paths, nil
}

func writeReport(path string, result pipeline.BatchResult) error {
	raw, err := json.MarshalIndent(map[string]any{
		"summary": result.Summary,
		"files":   result.Statuses,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func printStatuses(w io.Writer, statuses []domain.FileStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tOUTCOME\tDETAIL")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", st.FileName, st.Outcome, st.Detail)
	}
	_ = tw.Flush()
}
