package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/fitsflow/internal/config"
	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/dunamismax/fitsflow/internal/pipeline"
	"github.com/dunamismax/fitsflow/internal/queue"
	"github.com/dunamismax/fitsflow/internal/storage"
	"github.com/dunamismax/fitsflow/internal/store"
	"github.com/dunamismax/fitsflow/internal/telemetry"
	"github.com/dunamismax/fitsflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const archiveURLTTL = 24 * time.Hour

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    map[string]batchProcessor
	webhookClient webhookSender
	archiveLinker archiveLinker
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
	// retries reports the retry count and limit of the running task.
	retries func(ctx context.Context) (retried, maxRetry int, ok bool)
}

type batchProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type archiveLinker interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// NewServer wires a local-file processor and, when storageClient is set, an
// object-store processor for s3_presigned jobs.
func NewServer(
	logger *log.Logger,
	cfg config.Config,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) *Server {
	opts := cfg.Convert.Options()
	processors := map[string]batchProcessor{
		domain.SourceTypeLocalFile: pipeline.NewLocalProcessor(logger, opts, cfg.Worker.LocalOutputDir),
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			cfg.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					cfg.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:        make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		processors: processors,
		jobStore:   jobStore,
		metrics:    newMetrics(),
		tracer:     telemetry.Tracer("worker"),
		retries:    asynqRetries,
	}
	if storageClient != nil {
		processors[domain.SourceTypeS3Presigned] = pipeline.NewObjectStoreProcessor(
			logger, opts, storageClient, pipeline.DefaultOutputPrefix, cfg.Convert.MaxUploadBytes,
		)
		s.archiveLinker = storageClient
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertBatch, s.handleConvertBatch)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertBatch(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseConvertBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.process(ctx, payload)
}

// process runs one batch job. A returned error asks asynq to retry; batches
// whose files all failed are final and return nil.
func (s *Server) process(ctx context.Context, payload queue.ConvertBatchPayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.convert_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.files", len(payload.ObjectKeys)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	processor, ok := s.processors[payload.SourceType]
	if !ok {
		err := fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
		s.fail(ctx, payload, span, err, true)
		return fmt.Errorf("select processor: %v: %w", err, asynq.SkipRetry)
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s files=%d",
		payload.JobID,
		payload.SourceType,
		len(payload.ObjectKeys),
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKeys: payload.ObjectKeys,
		FileNames:  payload.FileNames,
	})
	if err != nil {
		s.fail(ctx, payload, span, err, s.finalAttempt(ctx))
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.metrics.observeSummary(result.Summary)
	s.metrics.inputBytesTotal.Add(float64(result.InputBytes))
	s.metrics.archiveBytes.Observe(float64(result.ArchiveBytes))

	outcome = result.Summary.JobStatus()
	span.SetAttributes(
		attribute.Int("job.succeeded", result.Summary.Succeeded),
		attribute.Int("job.render_failed", result.Summary.RenderFailed),
		attribute.Int("job.failed", result.Summary.Failed),
	)
	s.logger.Printf(
		"Processed job_id=%s status=%s succeeded=%d render_failed=%d failed=%d archive=%s",
		payload.JobID, outcome,
		result.Summary.Succeeded, result.Summary.RenderFailed, result.Summary.Failed,
		result.ArchiveKey,
	)

	if s.jobStore != nil {
		if _, err := s.jobStore.Complete(ctx, payload.JobID, store.JobResult{
			Status:     outcome,
			ArchiveKey: result.ArchiveKey,
			Summary:    result.Summary,
			Files:      result.Files,
		}); err != nil {
			s.logger.Printf("job completion update failed job_id=%s err=%v", payload.JobID, err)
		}
	}

	event := webhook.EventJobCompleted
	if outcome == domain.JobStatusFailed {
		event = webhook.EventJobFailed
		span.SetStatus(codes.Error, "every file failed")
	} else {
		span.SetStatus(codes.Ok, "processed")
	}
	s.dispatchWebhook(ctx, payload, event, webhook.JobEvent{
		JobID:       payload.JobID,
		Status:      outcome,
		ArchiveKey:  result.ArchiveKey,
		ArchiveURL:  s.archiveURL(ctx, payload.SourceType, result.ArchiveKey),
		Summary:     result.Summary,
		Files:       result.Files,
		CompletedAt: time.Now().UTC(),
	})
	return nil
}

// fail marks the job failed and notifies the webhook only when asynq will not
// run the task again. Otherwise the job goes back to queued so it cannot be
// restarted while a retry is pending.
func (s *Server) fail(ctx context.Context, payload queue.ConvertBatchPayload, span trace.Span, err error, final bool) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "pipeline failed")
	if !final {
		s.logger.Printf("job will retry job_id=%s attempt=%d err=%v", payload.JobID, payload.Attempt, err)
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		return
	}
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
	s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, webhook.JobEvent{
		JobID:       payload.JobID,
		Status:      domain.JobStatusFailed,
		Error:       err.Error(),
		CompletedAt: time.Now().UTC(),
	})
}

func (s *Server) finalAttempt(ctx context.Context) bool {
	if s.retries == nil {
		return true
	}
	retried, maxRetry, ok := s.retries(ctx)
	return !ok || retried >= maxRetry
}

func asynqRetries(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return retried, maxRetry, ok
}

func (s *Server) archiveURL(ctx context.Context, sourceType, key string) string {
	if s.archiveLinker == nil || key == "" || sourceType != domain.SourceTypeS3Presigned {
		return ""
	}
	u, err := s.archiveLinker.PresignedGetURL(ctx, key, archiveURLTTL)
	if err != nil {
		s.logger.Printf("presign archive failed key=%s err=%v", key, err)
		return ""
	}
	return u
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

// dispatchWebhook logs and counts delivery failures; they never fail the job.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertBatchPayload, event string, body webhook.JobEvent) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
