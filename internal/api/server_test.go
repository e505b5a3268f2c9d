package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/fitsfile/fitstest"
	"github.com/dunamismax/fitsflow/internal/pipeline"
	"github.com/dunamismax/fitsflow/internal/queue"
	"github.com/dunamismax/fitsflow/internal/ratelimit"
	"github.com/dunamismax/fitsflow/internal/store"
	"github.com/hibiken/asynq"
)

// fakeEnqueuer rejects a reused task ID the way asynq does.
type fakeEnqueuer struct {
	payloads []queue.ConvertBatchPayload
	taskIDs  map[string]bool
}

func (f *fakeEnqueuer) EnqueueConvertBatch(_ context.Context, payload queue.ConvertBatchPayload) (*asynq.TaskInfo, error) {
	id := queue.TaskID(payload.JobID, payload.Attempt)
	if f.taskIDs == nil {
		f.taskIDs = make(map[string]bool)
	}
	if f.taskIDs[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.taskIDs[id] = true
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: id, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct {
	existing map[string]bool
}

func (f fakeStorage) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.test/bucket/" + key + "?sig=put", nil
}

func (f fakeStorage) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.test/bucket/" + key + "?sig=get", nil
}

func (f fakeStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	return f.existing[key], nil
}

type denyLimiter struct {
	costs []int
}

func (d *denyLimiter) AllowN(_ context.Context, _ string, cost int) (ratelimit.Decision, error) {
	d.costs = append(d.costs, cost)
	return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
}

func newTestServer(t *testing.T, storage ObjectStorage, limiter RateLimiter) (*Server, *fakeEnqueuer, *store.MemoryJobStore) {
	t.Helper()

	opts := pipeline.DefaultOptions()
	opts.Workers = 2
	opts.Render.SizeInches = 1
	opts.Render.DPI = 16

	enq := &fakeEnqueuer{}
	jobs := store.NewMemoryJobStore()
	s := NewServer(log.New(io.Discard, "", 0), Config{Convert: opts}, enq, jobs, storage, limiter)
	return s, enq, jobs
}

func fitsBytes(w, h int) []byte {
	return fitstest.Image(16, w, h, fitstest.Gradient(w, h),
		fitstest.Card{Key: "DATE-OBS", Value: "2022-06-01T12:00:00"},
	)
}

func multipartBody(t *testing.T, files map[string][]byte, order []string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	for _, name := range order {
		fw, err := mw.CreateFormFile(uploadField, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(files[name]); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestConvertReturnsArchive(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	files := map[string][]byte{
		"a.fits": fitsBytes(8, 8),
		"b.fits": []byte("garbage"),
		"c.fit":  fitsBytes(6, 4),
	}
	body, contentType := multipartBody(t, files, []string{"a.fits", "b.fits", "c.fit"})

	req := httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("expected application/zip, got %s", got)
	}
	if rec.Header().Get(HeaderSucceeded) != "2" || rec.Header().Get(HeaderFailed) != "1" {
		t.Fatalf("unexpected summary headers succeeded=%s failed=%s",
			rec.Header().Get(HeaderSucceeded), rec.Header().Get(HeaderFailed))
	}

	var statuses []domain.FileStatus
	if err := json.Unmarshal([]byte(rec.Header().Get(HeaderReport)), &statuses); err != nil {
		t.Fatalf("decode report header: %v", err)
	}
	if len(statuses) != 3 || statuses[1].FileName != "b.fits" || statuses[1].Outcome != domain.OutcomeError {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	names := archiveNames(t, rec.Body.Bytes())
	want := []string{"a.json", "a.png", "c.json", "c.png"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected entries %v, got %v", want, names)
	}
}

func TestConvertReportHeaderStaysBounded(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	files := map[string][]byte{"sun.fits": fitsBytes(8, 8)}
	order := []string{"sun.fits"}
	for i := 0; i < 120; i++ {
		name := fmt.Sprintf("observation-%03d-with-a-long-descriptive-name.fits", i)
		files[name] = []byte("garbage")
		order = append(order, name)
	}
	body, contentType := multipartBody(t, files, order)

	req := httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := len(rec.Header().Get(HeaderReport)); got == 0 || got > maxReportHeader {
		t.Fatalf("expected report header within %d bytes, got %d", maxReportHeader, got)
	}
	if rec.Header().Get(HeaderReportTruncated) != "true" {
		t.Fatal("expected truncation to be flagged")
	}
	if rec.Header().Get(HeaderFailed) != "120" {
		t.Fatalf("expected counts to stay exact, got failed=%s", rec.Header().Get(HeaderFailed))
	}
}

func TestReportHeaderKeepsProblemsFirst(t *testing.T) {
	statuses := []domain.FileStatus{{FileName: "bad.fits", Outcome: domain.OutcomeError, Detail: "not a FITS file"}}
	for i := 0; i < 200; i++ {
		statuses = append(statuses, domain.FileStatus{
			FileName: fmt.Sprintf("good-%03d.fits", i),
			Outcome:  domain.OutcomeSuccess,
			Entries:  []string{fmt.Sprintf("good-%03d.png", i), fmt.Sprintf("good-%03d.json", i)},
		})
	}

	report, truncated := reportHeader(statuses)
	if !truncated {
		t.Fatal("expected truncated report")
	}
	var got []domain.FileStatus
	if err := json.Unmarshal([]byte(report), &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(got) != 1 || got[0].FileName != "bad.fits" {
		t.Fatalf("expected only the failed file, got %+v", got)
	}

	small, truncated := reportHeader(statuses[:3])
	if truncated || !strings.Contains(small, "good-001.fits") {
		t.Fatalf("expected full report for a small batch, got truncated=%v %s", truncated, small)
	}
}

func TestConvertJSONFormat(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	body, contentType := multipartBody(t, map[string][]byte{"sun.fits": fitsBytes(8, 8)}, []string{"sun.fits"})
	req := httptest.NewRequest(http.MethodPost, "/v1/convert?format=json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Summary       domain.Summary      `json:"summary"`
		Files         []domain.FileStatus `json:"files"`
		ArchiveBase64 string              `json:"archive_base64"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Summary.Succeeded != 1 {
		t.Fatalf("unexpected summary %+v", resp.Summary)
	}
	archive, err := base64.StdEncoding.DecodeString(resp.ArchiveBase64)
	if err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if names := archiveNames(t, archive); len(names) != 2 {
		t.Fatalf("expected png and json, got %v", names)
	}
}

func TestConvertRejections(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/convert", strings.NewReader("{}")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", rec.Code)
	}

	body, contentType := multipartBody(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty upload, got %d", rec.Code)
	}

	body, contentType = multipartBody(t, map[string][]byte{"bad.fits": []byte("nope")}, []string{"bad.fits"})
	req = httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 when nothing converts, got %d", rec.Code)
	}
}

func TestConvertRateLimitedPerFile(t *testing.T) {
	limiter := &denyLimiter{}
	s, _, _ := newTestServer(t, nil, limiter)

	files := map[string][]byte{"a.fits": fitsBytes(4, 4), "b.fits": fitsBytes(4, 4)}
	body, contentType := multipartBody(t, files, []string{"a.fits", "b.fits"})
	req := httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
	if len(limiter.costs) != 1 || limiter.costs[0] != 2 {
		t.Fatalf("expected a single charge of 2 tokens, got %v", limiter.costs)
	}
}

func TestLocalJobLifecycle(t *testing.T) {
	s, enq, _ := newTestServer(t, nil, nil)
	handler := s.Handler()

	input := filepath.Join(t.TempDir(), "sun.fits")
	if err := os.WriteFile(input, fitsBytes(4, 4), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	createBody := `{"source_type":"local_file","object_keys":["` + filepath.ToSlash(input) + `"]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(createBody)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on start, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enq.payloads) != 1 || enq.payloads[0].FileNames[0] != "sun.fits" {
		t.Fatalf("unexpected enqueued payloads %+v", enq.payloads)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when starting twice, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got["status"] != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %v", got["status"])
	}
}

func TestRestartFailedJobUsesNewTask(t *testing.T) {
	s, enq, jobs := newTestServer(t, nil, nil)
	handler := s.Handler()
	ctx := context.Background()

	input := filepath.Join(t.TempDir(), "sun.fits")
	if err := os.WriteFile(input, fitsBytes(4, 4), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	job := domain.Job{
		ID:         "9b2f4a3e-6c1d-4e8f-a0b7-3d5c2e1f4a6b",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKeys: []string{input},
		FileNames:  []string{"sun.fits"},
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	start := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/start", nil))
		return rec
	}

	if rec := start(); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on first start, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if rec := start(); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on restart, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enq.payloads) != 2 || enq.payloads[0].Attempt != 1 || enq.payloads[1].Attempt != 2 {
		t.Fatalf("expected attempts 1 and 2, got %+v", enq.payloads)
	}
	stored, _, _ := jobs.Get(ctx, job.ID)
	if stored.Starts != 2 || stored.Status != domain.JobStatusQueued {
		t.Fatalf("unexpected job after restart %+v", stored)
	}

	// A start whose task already exists is a conflict, not a server error.
	if _, err := jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	enq.taskIDs[queue.TaskID(job.ID, 3)] = true
	if rec := start(); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on task id conflict, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPresignedJobNeedsUploads(t *testing.T) {
	storage := fakeStorage{existing: map[string]bool{}}
	s, _, jobs := newTestServer(t, storage, nil)
	handler := s.Handler()

	createBody := `{"source_type":"s3_presigned","file_names":["dir/Sun One.FITS","b.fit"]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(createBody)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		JobID   string         `json:"job_id"`
		Uploads []uploadTarget `json:"uploads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(created.Uploads) != 2 {
		t.Fatalf("expected two upload targets, got %+v", created.Uploads)
	}
	wantKey := "uploads/" + created.JobID + "/0000-Sun_One.fits"
	if created.Uploads[0].ObjectKey != wantKey || created.Uploads[0].PresignedPutURL == "" {
		t.Fatalf("unexpected first upload target %+v", created.Uploads[0])
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before uploads exist, got %d", rec.Code)
	}

	if _, err := jobs.Complete(context.Background(), created.JobID, store.JobResult{
		Status:     domain.JobStatusSucceeded,
		ArchiveKey: "outputs/" + created.JobID + "/converted.zip",
	}); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil))
	if !strings.Contains(rec.Body.String(), "sig=get") {
		t.Fatalf("expected presigned archive url, got %s", rec.Body.String())
	}
}

func TestUnknownJob(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	for _, target := range []string{"/v1/jobs/not-a-uuid", "/v1/jobs/6f1c1a8e-3b0e-4c55-9b5e-0f0e7c1d2a11"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs":           "/v1/jobs",
		"/v1/convert":        "/v1/convert",
		"/favicon.ico":       "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%s): expected %s, got %s", path, want, got)
		}
	}
}

func archiveNames(t *testing.T, archive []byte) []string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}
