package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderSucceeded    = "X-Fitsflow-Succeeded"
	HeaderRenderFailed = "X-Fitsflow-Render-Failed"
	HeaderFailed       = "X-Fitsflow-Failed"
	HeaderReport       = "X-Fitsflow-Report"

	// HeaderReportTruncated is set when the report header leaves out
	// statuses; ?format=json always carries all of them.
	HeaderReportTruncated = "X-Fitsflow-Report-Truncated"

	// maxReportHeader keeps the report header under common proxy limits.
	maxReportHeader = 4 << 10

	uploadField = "files"
)

var errTooManyFiles = fmt.Errorf("at most %d files per request", domain.MaxFilesPerJob)

// handleConvert converts the uploaded files synchronously and answers with the
// ZIP archive, or with JSON when ?format=json.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	files, err := readUploads(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes))
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("multipart field %q must contain at least one file", uploadField))
		return
	}

	if !s.allow(w, r, len(files)) {
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("fits.files", len(files)))

	result, err := s.converter.ConvertBatch(r.Context(), files)
	if err != nil {
		s.logger.Printf("sync convert failed files=%d err=%v", len(files), err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "failed to build archive",
			"summary": result.Summary,
			"files":   result.Statuses,
		})
		return
	}
	s.metrics.observeConversion(files, result)

	if result.Summary.Succeeded+result.Summary.RenderFailed == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "no file could be converted",
			"summary": result.Summary,
			"files":   result.Statuses,
		})
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"summary":        result.Summary,
			"files":          result.Statuses,
			"archive_base64": base64.StdEncoding.EncodeToString(result.Archive),
		})
		return
	}

	report, truncated := reportHeader(result.Statuses)

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", `attachment; filename="`+pipeline.ArchiveFileName+`"`)
	h.Set("Content-Length", strconv.Itoa(len(result.Archive)))
	h.Set(HeaderSucceeded, strconv.Itoa(result.Summary.Succeeded))
	h.Set(HeaderRenderFailed, strconv.Itoa(result.Summary.RenderFailed))
	h.Set(HeaderFailed, strconv.Itoa(result.Summary.Failed))
	h.Set(HeaderReport, report)
	if truncated {
		h.Set(HeaderReportTruncated, "true")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Archive); err != nil {
		s.logger.Printf("write archive response failed err=%v", err)
	}
}

// reportHeader encodes the statuses for the report header. When they do not
// fit in maxReportHeader it keeps only the statuses that are not a success,
// and drops the list entirely if even those do not fit.
func reportHeader(statuses []domain.FileStatus) (string, bool) {
	full, err := json.Marshal(statuses)
	if err == nil && len(full) <= maxReportHeader {
		return string(full), false
	}

	problems := make([]domain.FileStatus, 0)
	for _, st := range statuses {
		if st.Outcome != domain.OutcomeSuccess {
			problems = append(problems, st)
		}
	}
	if partial, err := json.Marshal(problems); err == nil && len(partial) <= maxReportHeader {
		return string(partial), true
	}
	return "[]", true
}

// readUploads streams the multipart body and keeps every part of the files
// field in order. Other fields are ignored.
func readUploads(r *http.Request) ([]pipeline.File, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("expected multipart/form-data body: %w", err)
	}

	var files []pipeline.File
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart body: %w", err)
		}

		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		if len(files) == domain.MaxFilesPerJob {
			_ = part.Close()
			return nil, errTooManyFiles
		}

		f, err := readPart(part, len(files))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
}

func readPart(part *multipart.Part, index int) (pipeline.File, error) {
	defer part.Close()

	name := part.FileName()
	if name == "" {
		return pipeline.File{}, fmt.Errorf("part %d of %q has no file name", index, uploadField)
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return pipeline.File{}, fmt.Errorf("read upload %s: %w", name, err)
	}
	return pipeline.File{Name: name, Data: data}, nil
}
