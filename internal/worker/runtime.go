package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"time"

	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/infra"
	"github.com/jbellot/iris-art/internal/progress"
	"github.com/jbellot/iris-art/internal/queue"
	"github.com/jbellot/iris-art/internal/stages"
	"github.com/jbellot/iris-art/internal/storage"
)

// Internal step labels persisted with every checkpoint. The API layer maps
// them to user-facing display names; the worker never emits display text.
const (
	stepLoading      = "loading"
	stepSegmenting   = "segmenting"
	stepDereflecting = "removing_reflections"
	stepEnhancing    = "enhancing"
	stepStyling      = "applying_style"
	stepGenerating   = "generating"
	stepUpscaling    = "upscaling"
	stepWatermarking = "watermarking"
	stepBlending     = "blending"
	stepComposing    = "composing"
	stepSaving       = "saving"
)

// maxAttempts bounds executions per job: the first run plus at most one
// automatic retry.
const maxAttempts = 2

const (
	retryBackoffBase = 2 * time.Second
	retryBackoffCap  = 10 * time.Minute
)

// watermarkText marks free-tier exports.
const watermarkText = "iris-art"

// timeLimits pairs the hard execution deadline with the soft warning
// threshold for one job kind.
type timeLimits struct {
	hard time.Duration
	soft time.Duration
}

func limitsFor(kind domain.JobKind) timeLimits {
	switch kind {
	case domain.JobKindFusion:
		return timeLimits{hard: 3 * time.Minute, soft: 150 * time.Second}
	case domain.JobKindComposition:
		return timeLimits{hard: 60 * time.Second, soft: 50 * time.Second}
	default:
		return timeLimits{hard: 30 * time.Minute, soft: 25 * time.Minute}
	}
}

// Runtime executes one job pipeline per queue delivery. It is the single
// writer for the jobs it runs: every stage boundary persists a durable
// checkpoint and mirrors it to the ephemeral tracker, failures go through the
// classification and retry policy, and terminal writes are atomic.
type Runtime struct {
	jobs    domain.JobRepository
	store   storage.Store
	tracker progress.Tracker
	models  *ModelCache
	logger  infra.Logger

	// Optional real segmentation model; nil selects the simulated mask path.
	segmenter stages.SegmentationModel

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

func NewRuntime(jobs domain.JobRepository, store storage.Store, tracker progress.Tracker, models *ModelCache, logger infra.Logger) *Runtime {
	return &Runtime{
		jobs:    jobs,
		store:   store,
		tracker: tracker,
		models:  models,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
		jitter:  rand.Float64,
	}
}

// SetSegmentationModel installs a real segmentation model in place of the
// simulated mask.
func (r *Runtime) SetSegmentationModel(m stages.SegmentationModel) {
	r.segmenter = m
}

// Handle is the queue.Handler entry point. A nil return commits the message;
// an error leaves it for redelivery, which the terminal-state no-op re-entry
// below makes safe.
func (r *Runtime) Handle(ctx context.Context, env queue.Envelope) error {
	job, err := r.jobs.GetByID(ctx, env.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn().Str("job_id", env.JobID).Msg("worker: task for unknown job, dropping")
			return nil
		}
		return fmt.Errorf("load job %s: %w", env.JobID, err)
	}
	if job.Status.Terminal() {
		r.logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("worker: job already terminal, skipping")
		return nil
	}

	// A record redelivered with its retry budget already spent was
	// interrupted mid-run (worker crash); settle it instead of re-executing.
	attempt := job.AttemptCount + 1
	if attempt > maxAttempts {
		return r.fail(ctx, job, domain.ServerError("Processing was interrupted. Please try again.", nil), job.AttemptCount)
	}

	for ; attempt <= maxAttempts; attempt++ {
		if err := r.jobs.MarkProcessing(ctx, job.ID, attempt); err != nil {
			return fmt.Errorf("mark processing %s: %w", job.ID, err)
		}
		r.logger.Info().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int("attempt", attempt).
			Msg("worker: picked job")

		runErr := r.runPipeline(ctx, job)
		if runErr == nil {
			return nil
		}

		jerr := domain.Classify(runErr)
		if jerr.Retryable && attempt < maxAttempts {
			delay := r.retryDelay(attempt)
			r.logger.Warn().
				Err(runErr).
				Str("job_id", job.ID).
				Dur("backoff", delay).
				Msg("worker: attempt failed, retrying")
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		return r.fail(ctx, job, jerr, attempt)
	}
	return nil
}

func (r *Runtime) runPipeline(ctx context.Context, job *domain.Job) error {
	lim := limitsFor(job.Kind)
	ctx, cancel := context.WithTimeout(ctx, lim.hard)
	defer cancel()
	soft := time.AfterFunc(lim.soft, func() {
		r.logger.Warn().
			Str("job_id", job.ID).
			Dur("soft_limit", lim.soft).
			Msg("worker: soft time limit exceeded")
	})
	defer soft.Stop()

	start := r.now()
	switch job.Kind {
	case domain.JobKindProcessing:
		return r.runProcessing(ctx, job, start)
	case domain.JobKindStyle:
		return r.runStyle(ctx, job, start)
	case domain.JobKindExport:
		return r.runExport(ctx, job, start)
	case domain.JobKindFusion:
		return r.runFusion(ctx, job, start)
	case domain.JobKindComposition:
		return r.runComposition(ctx, job, start)
	default:
		return domain.ServerError("Something went wrong. Please try again later.", fmt.Errorf("unsupported job kind %q", job.Kind))
	}
}

// checkpoint persists the durable stage boundary and mirrors it to the
// ephemeral tracker. A tracker write failure only costs freshness and is
// logged, not escalated; a repository failure aborts the attempt.
func (r *Runtime) checkpoint(ctx context.Context, jobID string, pct int, step string) error {
	if err := r.jobs.Checkpoint(ctx, jobID, pct, step); err != nil {
		return fmt.Errorf("checkpoint %s at %d%%: %w", jobID, pct, err)
	}
	state := progress.TaskState{Step: step, Progress: pct, UpdatedAt: r.now()}
	if err := r.tracker.Set(ctx, jobID, state); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: tracker update failed")
	}
	return nil
}

func (r *Runtime) complete(ctx context.Context, job *domain.Job, res domain.JobResult) error {
	if err := r.jobs.Complete(ctx, job.ID, res); err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	if err := r.tracker.Clear(ctx, job.ID); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: tracker clear failed")
	}
	r.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int64("duration_ms", res.ProcessingTimeMS).
		Str("result_key", res.ResultKey).
		Msg("worker: job completed")
	return nil
}

// fail settles the job: best-effort cleanup of partial artifacts, then one
// atomic failed write. Always consumes the message.
func (r *Runtime) fail(ctx context.Context, job *domain.Job, jerr *domain.JobError, attempt int) error {
	r.cleanup(ctx, job)
	if err := r.jobs.Fail(ctx, job.ID, jerr.Kind, jerr.Message, jerr.Suggestion, attempt); err != nil {
		return fmt.Errorf("fail %s: %w", job.ID, err)
	}
	if err := r.tracker.Clear(ctx, job.ID); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: tracker clear failed")
	}
	r.logger.Error().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("error_kind", string(jerr.Kind)).
		Int("attempt", attempt).
		Str("message", jerr.Message).
		Msg("worker: job failed")
	return nil
}

// cleanup deletes whatever partial artifacts the failed attempts may have
// written under the job's result keys. Deletions are best-effort: the hard
// deadline may already be spent, so a detached short-lived context is used,
// and errors are logged only.
func (r *Runtime) cleanup(ctx context.Context, job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, key := range r.resultKeys(job) {
		if err := r.store.Delete(ctx, key); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Str("key", key).Msg("worker: partial artifact cleanup failed")
		}
	}
}

func (r *Runtime) resultKeys(job *domain.Job) []string {
	switch job.Kind {
	case domain.JobKindProcessing:
		return []string{processedKey(job.UserID, job.ID), processedMaskKey(job.UserID, job.ID)}
	case domain.JobKindStyle:
		g := job.Params.Generative
		return []string{styledKey(job.UserID, job.ID, g), styledPreviewKey(job.UserID, job.ID, g)}
	case domain.JobKindExport:
		return []string{exportKey(job.UserID, job.ID)}
	default:
		return []string{fusionKey(job.ID), fusionThumbKey(job.ID)}
	}
}

// retryDelay is exponential backoff with full jitter, capped.
func (r *Runtime) retryDelay(attempt int) time.Duration {
	d := retryBackoffBase << (attempt - 1)
	if d > retryBackoffCap {
		d = retryBackoffCap
	}
	return time.Duration((0.5 + r.jitter()/2) * float64(d))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runtime) elapsedMS(start time.Time) int64 {
	return r.now().Sub(start).Milliseconds()
}

// loadImage fetches and decodes one stored object. Fetch failures are
// transient (storage hiccup), decode failures are quality issues.
func (r *Runtime) loadImage(ctx context.Context, key string) (image.Image, error) {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, domain.TransientError("Failed to load image from storage", err)
	}
	return stages.Decode(data)
}

func (r *Runtime) putJPEG(ctx context.Context, key string, img image.Image, quality int) (int64, error) {
	data, err := stages.EncodeJPEG(img, quality)
	if err != nil {
		return 0, err
	}
	if err := r.store.Put(ctx, key, data, "image/jpeg"); err != nil {
		return 0, domain.TransientError("Failed to save result", err)
	}
	return int64(len(data)), nil
}
