package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jbellot/iris-art/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
//
// Terminal-state protection lives in the SQL itself: every mutating statement
// carries `status NOT IN ('completed','failed')`, so a redelivered task or a
// stray late write can never move a finished record. Progress is clamped with
// GREATEST so persisted values are monotonic within an attempt.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `
id, user_id, kind, params, status, progress, current_step, attempt_count,
result_key, mask_key, preview_key, thumbnail_key,
result_width, result_height, file_size_bytes, processing_time_ms,
error_kind, error_message, suggestion,
created_at, updated_at, completed_at`

// Create inserts a new job record in status pending.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode job params: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, kind, params, status, progress, current_step, attempt_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Kind,
		params,
		job.Status,
		job.Progress,
		job.CurrentStep,
		job.AttemptCount,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetForUser fetches a job scoped to its owner. A foreign job id reads the
// same as a missing one.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND user_id = $2;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID, userID))
}

// MarkProcessing transitions a non-terminal job into processing and records
// the attempt number.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID string, attempt int) error {
	query := `
UPDATE jobs
SET status = 'processing',
    attempt_count = $2,
    updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, jobID, attempt)
	return err
}

// Checkpoint persists the durable per-stage progress write.
func (r *JobRepositoryPG) Checkpoint(ctx context.Context, jobID string, progress int, step string) error {
	query := `
UPDATE jobs
SET status = 'processing',
    progress = GREATEST(progress, $2),
    current_step = $3,
    updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, jobID, progress, step)
	return err
}

// Complete atomically records result locators and metadata and finishes the job.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string, res domain.JobResult) error {
	query := `
UPDATE jobs
SET status = 'completed',
    progress = 100,
    current_step = 'completed',
    result_key = $2,
    mask_key = $3,
    preview_key = $4,
    thumbnail_key = $5,
    result_width = $6,
    result_height = $7,
    file_size_bytes = $8,
    processing_time_ms = $9,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, jobID,
		res.ResultKey,
		res.MaskKey,
		res.PreviewKey,
		res.ThumbnailKey,
		res.Width,
		res.Height,
		res.FileSizeBytes,
		res.ProcessingTimeMS,
	)
	return err
}

// Fail atomically records the classified error and finishes the job.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, kind domain.ErrorKind, message, suggestion string, attempt int) error {
	query := `
UPDATE jobs
SET status = 'failed',
    error_kind = $2,
    error_message = $3,
    suggestion = $4,
    attempt_count = $5,
    updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query, jobID, kind, left(message, 500), suggestion, attempt)
	return err
}

// LatestCompletedForPhoto returns the best completed upstream job for a photo:
// the most recent completed style job wins over processing, matching how
// fusion sources are resolved.
func (r *JobRepositoryPG) LatestCompletedForPhoto(ctx context.Context, userID, photoID string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE user_id = $1
  AND params->>'photo_id' = $2
  AND status = 'completed'
  AND kind IN ('style', 'processing')
ORDER BY (kind = 'style') DESC, created_at DESC
LIMIT 1;
`
	return r.scanJob(r.pool.QueryRow(ctx, query, userID, photoID))
}

// CountForUserMonth counts jobs the user created during a YYYY-MM month over
// the given kinds.
func (r *JobRepositoryPG) CountForUserMonth(ctx context.Context, userID, month string, kinds []domain.JobKind) (int, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	query := `
SELECT count(*)
FROM jobs
WHERE user_id = $1
  AND to_char(created_at, 'YYYY-MM') = $2
  AND kind = ANY($3);
`
	var n int
	if err := r.pool.QueryRow(ctx, query, userID, month, names).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var params []byte
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Kind,
		&params,
		&job.Status,
		&job.Progress,
		&job.CurrentStep,
		&job.AttemptCount,
		&job.ResultKey,
		&job.MaskKey,
		&job.PreviewKey,
		&job.ThumbnailKey,
		&job.ResultWidth,
		&job.ResultHeight,
		&job.FileSizeBytes,
		&job.ProcessingTimeMS,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.Suggestion,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("decode job params: %w", err)
		}
	}
	return &job, nil
}

func left(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
