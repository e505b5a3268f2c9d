package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrUnsupportedExtension  = errors.New("unsupported file extension, expected .fit or .fits")
)

// ParseError means the input is not a usable FITS file. It is fatal for that
// file only.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RenderError means the image could not be rendered; metadata for the file is
// still valid.
type RenderError struct {
	File string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.File, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ArchiveError means packaging or delivering the batch output failed.
type ArchiveError struct {
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive: %v", e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }
