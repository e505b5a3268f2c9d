package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/fitsflow/internal/fitsfile/fitstest"
)

func TestCollectInputsExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.fits", "a.FIT", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.fits"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	explicit := filepath.Join(dir, "notes.txt")

	got, err := collectInputs([]string{dir, explicit})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{filepath.Join(dir, "a.FIT"), filepath.Join(dir, "b.fits"), explicit}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCollectInputsMissingPath(t *testing.T) {
	if _, err := collectInputs([]string{filepath.Join(t.TempDir(), "absent.fits")}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestRunWritesArchive(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "sun.fits")
	if err := os.WriteFile(input, fitstest.Image(16, 8, 8, fitstest.Gradient(8, 8)), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	out := filepath.Join(dir, "out.zip")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-o", out, "-size", "1", "-dpi", "16", input}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Fatalf("expected png and json entries, got %d", len(zr.File))
	}
	if !strings.Contains(stdout.String(), "sun.fits") {
		t.Fatalf("expected status table to list sun.fits, got %q", stdout.String())
	}
}

func TestRunReturnsErrorCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "absent.fits")
	if code := run(context.Background(), []string{missing}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for a missing input, got %d", code)
	}
	if !strings.Contains(stderr.String(), "load inputs") {
		t.Fatalf("expected the error to be logged, got %q", stderr.String())
	}
	if code := run(context.Background(), nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2 without arguments, got %d", code)
	}
}
