package domain

import "context"

// JobRepository defines persistence for job records. The worker executing a
// job's task is the only writer for that job id; all checkpoint and terminal
// writes are atomic and refuse to move a record out of a terminal state.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// GetForUser returns ErrNotFound both for a missing job and for an
	// ownership mismatch, so callers cannot probe for foreign job ids.
	GetForUser(ctx context.Context, jobID, userID string) (*Job, error)

	// MarkProcessing transitions pending -> processing and records the
	// attempt number. A no-op on terminal records.
	MarkProcessing(ctx context.Context, jobID string, attempt int) error
	// Checkpoint persists the durable per-stage progress write. Progress is
	// clamped monotonic server-side; terminal records are left untouched.
	Checkpoint(ctx context.Context, jobID string, progress int, step string) error
	// Complete atomically writes result locators, metadata, progress=100 and
	// status=completed.
	Complete(ctx context.Context, jobID string, res JobResult) error
	// Fail atomically writes the classified error fields and status=failed.
	Fail(ctx context.Context, jobID string, kind ErrorKind, message, suggestion string, attempt int) error

	// LatestCompletedForPhoto resolves pre-flight source lookups: the most
	// recent completed style job for the photo wins, then the most recent
	// completed processing job. ErrNotFound when the photo has neither.
	LatestCompletedForPhoto(ctx context.Context, userID, photoID string) (*Job, error)
	// CountForUserMonth counts jobs a user created in a YYYY-MM month across
	// the quota-gated kinds.
	CountForUserMonth(ctx context.Context, userID, month string, kinds []JobKind) (int, error)
}
