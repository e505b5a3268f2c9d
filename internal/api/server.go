package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/id"
	"github.com/dunamismax/fitsflow/internal/pipeline"
	"github.com/dunamismax/fitsflow/internal/queue"
	"github.com/dunamismax/fitsflow/internal/store"
	"github.com/dunamismax/fitsflow/internal/telemetry"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

const archiveURLTTL = time.Hour

type Config struct {
	PresignTTL     time.Duration
	MaxUploadBytes int64
	// UserIDHeader carries the caller identity used for rate limiting.
	UserIDHeader string
	Convert      pipeline.Options
}

type Server struct {
	logger                *log.Logger
	queueClient           Enqueuer
	jobStore              store.JobStore
	storage               ObjectStorage
	converter             *pipeline.Converter
	presignTTL            time.Duration
	maxUploadBytes        int64
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type Enqueuer interface {
	EnqueueConvertBatch(ctx context.Context, payload queue.ConvertBatchPayload) (*asynq.TaskInfo, error)
}

type ObjectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// NewServer builds the HTTP surface. storage and limiter may be nil.
func NewServer(logger *log.Logger, cfg Config, queueClient Enqueuer, jobStore store.JobStore, storage ObjectStorage, limiter RateLimiter) *Server {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	if strings.TrimSpace(cfg.UserIDHeader) == "" {
		cfg.UserIDHeader = "X-User-ID"
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               storage,
		converter:             pipeline.NewConverter(logger, cfg.Convert),
		presignTTL:            cfg.PresignTTL,
		maxUploadBytes:        cfg.MaxUploadBytes,
		rateLimiter:           limiter,
		rateLimitUserIDHeader: cfg.UserIDHeader,
		metrics:               newMetrics(),
		tracer:                telemetry.Tracer("api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadTarget struct {
	FileName        string `json:"file_name"`
	ObjectKey       string `json:"object_key"`
	PresignedPutURL string `json:"presigned_put_url,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	uploadState := "not_required"

	var (
		objectKeys []string
		fileNames  []string
		uploads    []uploadTarget
	)
	switch sourceType {
	case domain.SourceTypeS3Presigned:
		uploadState = "ready"
		for i, name := range req.FileNames {
			key := uploadObjectKey(jobID, i, name)
			url, err := s.storage.PresignedPutURL(r.Context(), key, s.presignTTL)
			if err != nil {
				s.logger.Printf("generate presigned url failed job_id=%s err=%v", jobID, err)
				writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
				return
			}
			objectKeys = append(objectKeys, key)
			fileNames = append(fileNames, path.Base(name))
			uploads = append(uploads, uploadTarget{FileName: name, ObjectKey: key, PresignedPutURL: url})
		}
	default:
		for i, key := range req.ObjectKeys {
			key = strings.TrimSpace(key)
			name := filepath.Base(key)
			if i < len(req.FileNames) && strings.TrimSpace(req.FileNames[i]) != "" {
				name = req.FileNames[i]
			}
			objectKeys = append(objectKeys, key)
			fileNames = append(fileNames, name)
			uploads = append(uploads, uploadTarget{FileName: name, ObjectKey: key})
		}
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		ObjectKeys: objectKeys,
		FileNames:  fileNames,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       job.ID,
		"status":       job.Status,
		"upload_state": uploadState,
		"uploads":      uploads,
		"start_url":    fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	switch job.Status {
	case domain.JobStatusCreated, domain.JobStatusFailed:
	default:
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourcesExist(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if !s.allow(w, r, len(job.ObjectKeys)) {
		return
	}

	payload := queue.ConvertBatchPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKeys:  job.ObjectKeys,
		FileNames:   job.FileNames,
		Attempt:     job.Starts + 1,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueConvertBatch(r.Context(), payload)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		writeError(w, http.StatusConflict, "job start is already queued")
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s attempt=%d err=%v", job.ID, payload.Attempt, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.MarkQueued(r.Context(), job.ID, payload.Attempt); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"attempt":     payload.Attempt,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	body := map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"file_names":  job.FileNames,
		"summary":     job.Summary,
		"files":       job.Files,
		"archive_key": job.ArchiveKey,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.ArchiveKey != "" && job.SourceType == domain.SourceTypeS3Presigned {
		url, err := s.storage.PresignedGetURL(r.Context(), job.ArchiveKey, archiveURLTTL)
		if err != nil {
			s.logger.Printf("presign archive failed job_id=%s err=%v", job.ID, err)
		} else {
			body["archive_url"] = url
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourcesExist(ctx context.Context, job domain.Job) error {
	for _, key := range job.ObjectKeys {
		switch job.SourceType {
		case domain.SourceTypeLocalFile:
			if _, err := os.Stat(key); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("source object is missing: %s", key)
				}
				return fmt.Errorf("source object check failed: %w", err)
			}
		default:
			exists, err := s.storage.ObjectExists(ctx, key)
			if err != nil {
				return fmt.Errorf("source object check failed: %w", err)
			}
			if !exists {
				return fmt.Errorf("source object is missing: %s", key)
			}
		}
	}
	return nil
}

// uploadObjectKey keeps upload order visible in the key and strips anything
// that is not safe in an object name.
func uploadObjectKey(jobID string, i int, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	stem := pipeline.SanitizePathToken(strings.TrimSuffix(base, path.Ext(base)))
	return fmt.Sprintf("uploads/%s/%04d-%s%s", jobID, i, stem, ext)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
