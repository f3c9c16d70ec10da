package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jbellot/iris-art/internal/domain"
)

type progressEvent struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Step        string `json:"step"`
	StepDisplay string `json:"step_display"`
	Live        bool   `json:"live"`
}

// JobStream serves live progress over server-sent events. Each session polls
// the bridge independently at a fixed interval under a wall-clock budget; a
// session ending never affects the job or any other session watching it.
//
// Terminal outcome: exactly one `completed` or `failed` event, then close. A
// job already terminal at subscribe time gets that one event immediately.
// Budget exhausted: one `timeout` event, then close; the job keeps running
// and the client falls back to the status endpoint.
func (a *App) JobStream(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "id")

	// Resolve once before committing to the stream so a bad job id is a
	// plain 404 rather than an event.
	view, err := a.Bridge.ViewForUser(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: stream open failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	budget := time.NewTimer(a.StreamBudget)
	defer budget.Stop()
	ticker := time.NewTicker(a.PollInterval)
	defer ticker.Stop()

	for {
		if view.Job.Status.Terminal() {
			name := "completed"
			if view.Job.Status == domain.JobStatusFailed {
				name = "failed"
			}
			a.sendEvent(w, flusher, name, a.statusResponse(view))
			return
		}
		// Every tick emits, even when nothing moved; the steady cadence doubles
		// as the client's heartbeat during long stages.
		a.sendEvent(w, flusher, "progress", progressEvent{
			JobID:       view.Job.ID,
			Status:      string(view.Job.Status),
			Progress:    view.Progress,
			Step:        view.Step,
			StepDisplay: displayName(view.Step),
			Live:        view.Live,
		})

		select {
		case <-r.Context().Done():
			// Client went away; the job is unaffected.
			return
		case <-budget.C:
			a.sendEvent(w, flusher, "timeout", map[string]string{
				"job_id":  jobID,
				"message": "Live updates paused. Your artwork is still being created.",
			})
			return
		case <-ticker.C:
		}

		view, err = a.Bridge.ViewForUser(r.Context(), jobID, userID)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("api: stream poll failed")
			a.sendEvent(w, flusher, "error", map[string]string{
				"job_id":  jobID,
				"message": "Lost track of this job. Check its status again shortly.",
			})
			return
		}
	}
}

func (a *App) sendEvent(w http.ResponseWriter, flusher http.Flusher, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		a.Logger.Error().Err(err).Str("event", name).Msg("api: stream event marshal failed")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}
