package progress

import (
	"context"

	"github.com/jbellot/iris-art/internal/domain"
)

// View is a single consistent answer to "what is true right now" for a job.
type View struct {
	Job      *domain.Job
	Progress int
	Step     string
	// Live reports whether the progress/step came from ephemeral task state
	// rather than the durable checkpoint.
	Live bool
}

// Bridge combines the ephemeral tracker with the durable record. Policy: a
// terminal record is authoritative and complete, ephemeral state is ignored.
// For a non-terminal record, live state wins when present because it is
// fresher than the last checkpoint write; otherwise the checkpoint stands.
type Bridge struct {
	jobs    domain.JobRepository
	tracker Tracker
}

func NewBridge(jobs domain.JobRepository, tracker Tracker) *Bridge {
	return &Bridge{jobs: jobs, tracker: tracker}
}

// ViewForUser resolves the ownership-scoped progress view for one job.
func (b *Bridge) ViewForUser(ctx context.Context, jobID, userID string) (*View, error) {
	job, err := b.jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	return b.resolve(ctx, job)
}

func (b *Bridge) resolve(ctx context.Context, job *domain.Job) (*View, error) {
	view := &View{Job: job, Progress: job.Progress, Step: job.CurrentStep}
	if job.Status.Terminal() {
		if job.Status == domain.JobStatusCompleted {
			view.Progress = 100
			view.Step = "completed"
		}
		return view, nil
	}
	state, ok, err := b.tracker.Get(ctx, job.ID)
	if err != nil {
		// The tracker being unreachable only costs freshness; the durable
		// checkpoint still answers.
		return view, nil
	}
	if ok && state.Progress >= job.Progress {
		view.Progress = state.Progress
		view.Step = state.Step
		view.Live = true
	}
	return view, nil
}
