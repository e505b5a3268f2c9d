package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/fitsflow/internal/domain"
	"github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_keys TEXT[] NOT NULL,
	file_names TEXT[] NOT NULL,
	archive_key TEXT NOT NULL DEFAULT '',
	summary JSONB NOT NULL DEFAULT '{}'::jsonb,
	files JSONB NOT NULL DEFAULT '[]'::jsonb,
	starts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS starts INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS jobs_status_updated_at_idx ON jobs (status, updated_at);
`

const jobColumns = `id, user_id, status, source_type, webhook_url, object_keys, file_names, archive_key, summary, files, starts, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	summaryJSON, filesJSON, err := encodeReport(job.Summary, job.Files)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		pq.Array(nonNil(job.ObjectKeys)),
		pq.Array(nonNil(job.FileNames)),
		job.ArchiveKey,
		summaryJSON,
		filesJSON,
		job.Starts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job         domain.Job
		summaryJSON []byte
		filesJSON   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		pq.Array(&job.ObjectKeys),
		pq.Array(&job.FileNames),
		&job.ArchiveKey,
		&summaryJSON,
		&filesJSON,
		&job.Starts,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(summaryJSON, &job.Summary); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job summary: %w", err)
	}
	if err := json.Unmarshal(filesJSON, &job.Files); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job files: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) MarkQueued(ctx context.Context, id string, starts int) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, starts = $2, updated_at = $3
		 WHERE id = $4`,
		domain.JobStatusQueued,
		starts,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("mark job queued: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, result JobResult) (domain.Job, error) {
	summaryJSON, filesJSON, err := encodeReport(result.Summary, result.Files)
	if err != nil {
		return domain.Job{}, err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, archive_key = $2, summary = $3, files = $4, updated_at = $5
		 WHERE id = $6`,
		result.Status,
		result.ArchiveKey,
		summaryJSON,
		filesJSON,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("complete job: %w", err)
	}
	return s.reload(ctx, id, res)
}

// DeleteFinishedBefore drops terminal jobs last updated before cutoff and
// returns their ids.
func (s *PostgresJobStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`DELETE FROM jobs
		 WHERE status = ANY($1) AND updated_at < $2
		 RETURNING id`,
		pq.Array([]string{domain.JobStatusSucceeded, domain.JobStatusPartial, domain.JobStatusFailed}),
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("delete finished jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ids, fmt.Errorf("scan deleted job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func encodeReport(summary domain.Summary, files []domain.FileStatus) ([]byte, []byte, error) {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job summary: %w", err)
	}
	if files == nil {
		files = []domain.FileStatus{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job files: %w", err)
	}
	return summaryJSON, filesJSON, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
