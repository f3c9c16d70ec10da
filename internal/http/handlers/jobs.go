package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/middleware"
	"github.com/jbellot/iris-art/internal/progress"
	"github.com/jbellot/iris-art/internal/worker"
)

type jobCreatedResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	RemainingQuota int    `json:"remaining_quota"`
}

type jobStatusResponse struct {
	JobID            string     `json:"job_id"`
	Kind             string     `json:"kind"`
	Status           string     `json:"status"`
	Progress         int        `json:"progress"`
	Step             string     `json:"step"`
	StepDisplay      string     `json:"step_display"`
	AttemptCount     int        `json:"attempt_count"`
	ResultURL        string     `json:"result_url,omitempty"`
	MaskURL          string     `json:"mask_url,omitempty"`
	PreviewURL       string     `json:"preview_url,omitempty"`
	ThumbnailURL     string     `json:"thumbnail_url,omitempty"`
	Width            int        `json:"width,omitempty"`
	Height           int        `json:"height,omitempty"`
	FileSizeBytes    int64      `json:"file_size_bytes,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms,omitempty"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	ErrorMessage     string     `json:"error,omitempty"`
	Suggestion       string     `json:"suggestion,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type processRequest struct {
	PhotoID string `json:"photo_id"`
}

// ProcessCreate starts the core iris-extraction pipeline for one photo.
func (a *App) ProcessCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.PhotoID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "photo_id required")
		return
	}
	a.createAndEnqueue(w, r, userID, domain.JobKindProcessing, domain.JobParams{PhotoID: req.PhotoID})
}

type styleRequest struct {
	PhotoID         string `json:"photo_id"`
	StyleID         string `json:"style_id"`
	Generative      bool   `json:"generative"`
	ProcessingJobID string `json:"processing_job_id"`
}

// StyleCreate starts a style (or generative art) job. When a processing job
// id is given its result is styled; otherwise the original photo is.
func (a *App) StyleCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req styleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.PhotoID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "photo_id required")
		return
	}
	if !req.Generative && !worker.HasStyle(req.StyleID) {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown style_id")
		return
	}
	if req.ProcessingJobID != "" {
		upstream, err := a.Jobs.GetForUser(r.Context(), req.ProcessingJobID, userID)
		if err != nil {
			a.error(w, http.StatusNotFound, "not_found", "processing job not found")
			return
		}
		if upstream.Kind != domain.JobKindProcessing || upstream.Status != domain.JobStatusCompleted {
			a.error(w, http.StatusBadRequest, "bad_request", "processing job is not a completed processing job")
			return
		}
	}
	a.createAndEnqueue(w, r, userID, domain.JobKindStyle, domain.JobParams{
		PhotoID:       req.PhotoID,
		StyleID:       req.StyleID,
		Generative:    req.Generative,
		UpstreamJobID: req.ProcessingJobID,
	})
}

// StyleCatalog lists the available style ids.
func (a *App) StyleCatalog(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"styles": worker.StyleIDs()})
}

type exportRequest struct {
	SourceType  string `json:"source_type"`
	SourceJobID string `json:"source_job_id"`
	Paid        bool   `json:"paid"`
}

type exportBatchRequest struct {
	Items []exportRequest `json:"items"`
}

func (a *App) validateExport(r *http.Request, userID string, req exportRequest) (domain.JobParams, int, string) {
	switch domain.ExportSourceType(req.SourceType) {
	case domain.ExportSourceProcessed, domain.ExportSourceStyled, domain.ExportSourceAIGenerated:
	default:
		return domain.JobParams{}, http.StatusBadRequest, "unsupported source_type"
	}
	if req.SourceJobID == "" {
		return domain.JobParams{}, http.StatusBadRequest, "source_job_id required"
	}
	source, err := a.Jobs.GetForUser(r.Context(), req.SourceJobID, userID)
	if err != nil {
		return domain.JobParams{}, http.StatusNotFound, "source job not found"
	}
	if source.Status != domain.JobStatusCompleted {
		return domain.JobParams{}, http.StatusBadRequest, "source job is not completed"
	}
	return domain.JobParams{
		SourceType:  domain.ExportSourceType(req.SourceType),
		SourceJobID: req.SourceJobID,
		Paid:        req.Paid,
	}, 0, ""
}

// ExportCreate starts an HD export of a finished result.
func (a *App) ExportCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	params, status, msg := a.validateExport(r, userID, req)
	if status != 0 {
		a.error(w, status, "bad_request", msg)
		return
	}
	a.createAndEnqueue(w, r, userID, domain.JobKindExport, params)
}

// ExportCreateBatch creates one export job per item and enqueues them
// together; earlier items get higher task priority.
func (a *App) ExportCreateBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req exportBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.Items) == 0 || len(req.Items) > 20 {
		a.error(w, http.StatusBadRequest, "bad_request", "between 1 and 20 items required")
		return
	}

	jobs := make([]*domain.Job, 0, len(req.Items))
	for _, item := range req.Items {
		params, status, msg := a.validateExport(r, userID, item)
		if status != 0 {
			a.error(w, status, "bad_request", msg)
			return
		}
		jobs = append(jobs, newJob(userID, domain.JobKindExport, params))
	}
	for _, job := range jobs {
		if err := a.Jobs.Create(r.Context(), job); err != nil {
			a.Logger.Error().Err(err).Msg("api: batch job create failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to create jobs")
			return
		}
	}
	if err := a.Dispatcher.EnqueueBatch(r.Context(), jobs); err != nil {
		a.Logger.Error().Err(err).Msg("api: batch enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue jobs")
		return
	}

	items := make([]jobCreatedResponse, len(jobs))
	for i, job := range jobs {
		items[i] = jobCreatedResponse{JobID: job.ID, Status: string(job.Status), RemainingQuota: -1}
	}
	a.json(w, http.StatusAccepted, map[string]any{"items": items})
}

type fusionRequest struct {
	PhotoIDs   []string `json:"photo_ids"`
	FusionType string   `json:"fusion_type"`
	BlendMode  string   `json:"blend_mode"`
	Layout     string   `json:"layout"`
}

// FusionCreate starts a blend fusion or a composition over 2+ photos.
func (a *App) FusionCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req fusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	switch req.FusionType {
	case "", "blend":
		if len(req.PhotoIDs) < 2 || len(req.PhotoIDs) > 4 {
			a.error(w, http.StatusBadRequest, "bad_request", "between 2 and 4 photo_ids required")
			return
		}
		mode := domain.BlendMode(req.BlendMode)
		if mode == "" {
			mode = domain.BlendModePoisson
		}
		if mode != domain.BlendModePoisson && mode != domain.BlendModeAlpha {
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported blend_mode")
			return
		}
		if status, code, msg := a.validateFusionPhotos(r, userID, req.PhotoIDs); status != 0 {
			a.error(w, status, code, msg)
			return
		}
		a.createAndEnqueue(w, r, userID, domain.JobKindFusion, domain.JobParams{
			PhotoIDs:  req.PhotoIDs,
			BlendMode: mode,
		})
	case "composition":
		if len(req.PhotoIDs) < 2 || len(req.PhotoIDs) > 4 {
			a.error(w, http.StatusBadRequest, "bad_request", "between 2 and 4 photo_ids required")
			return
		}
		layout := domain.Layout(req.Layout)
		if layout == "" {
			layout = domain.LayoutHorizontal
		}
		if layout != domain.LayoutHorizontal && layout != domain.LayoutVertical && layout != domain.LayoutGrid2x2 {
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported layout")
			return
		}
		if status, code, msg := a.validateFusionPhotos(r, userID, req.PhotoIDs); status != 0 {
			a.error(w, status, code, msg)
			return
		}
		a.createAndEnqueue(w, r, userID, domain.JobKindComposition, domain.JobParams{
			PhotoIDs: req.PhotoIDs,
			Layout:   layout,
		})
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported fusion_type")
	}
}

// validateFusionPhotos checks at submission time that every selected photo has
// a finished artwork the worker can fuse. Rejecting here keeps a doomed job
// from consuming quota and failing minutes later.
func (a *App) validateFusionPhotos(r *http.Request, userID string, photoIDs []string) (int, string, string) {
	for _, photoID := range photoIDs {
		if _, err := a.Jobs.LatestCompletedForPhoto(r.Context(), userID, photoID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return http.StatusNotFound, "not_found", fmt.Sprintf("photo %s has no finished artwork", photoID)
			}
			a.Logger.Error().Err(err).Str("photo_id", photoID).Msg("api: fusion source lookup failed")
			return http.StatusInternalServerError, "internal", "failed to check photos"
		}
	}
	return 0, "", ""
}

// JobStatus is the synchronous fallback to the stream: one reconciled
// progress view.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "id")
	view, err := a.Bridge.ViewForUser(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: job status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, a.statusResponse(view))
}

func newJob(userID string, kind domain.JobKind, params domain.JobParams) *domain.Job {
	return &domain.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Params:      params,
		Status:      domain.JobStatusPending,
		CurrentStep: "pending",
	}
}

// createAndEnqueue runs the shared tail of every creation endpoint: admission
// gate, durable record, broker enqueue.
func (a *App) createAndEnqueue(w http.ResponseWriter, r *http.Request, userID string, kind domain.JobKind, params domain.JobParams) {
	plan := middleware.PlanFromContext(r.Context())
	decision, err := a.Gate.CanAdmit(r.Context(), userID, plan, kind)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("api: admission check failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to check quota")
		return
	}
	if !decision.Allowed {
		a.error(w, http.StatusForbidden, "quota_exceeded", decision.Reason)
		return
	}

	job := newJob(userID, kind, params)
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("api: job create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	if err := a.Dispatcher.Enqueue(r.Context(), job, 0); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("api: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, jobCreatedResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		RemainingQuota: decision.Remaining,
	})
}

func (a *App) statusResponse(view *progress.View) jobStatusResponse {
	job := view.Job
	resp := jobStatusResponse{
		JobID:        job.ID,
		Kind:         string(job.Kind),
		Status:       string(job.Status),
		Progress:     view.Progress,
		Step:         view.Step,
		StepDisplay:  displayName(view.Step),
		AttemptCount: job.AttemptCount,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	switch job.Status {
	case domain.JobStatusCompleted:
		resp.ResultURL = a.presign(job.ResultKey)
		resp.MaskURL = a.presign(job.MaskKey)
		resp.PreviewURL = a.presign(job.PreviewKey)
		resp.ThumbnailURL = a.presign(job.ThumbnailKey)
		resp.Width = job.ResultWidth
		resp.Height = job.ResultHeight
		resp.FileSizeBytes = job.FileSizeBytes
		resp.ProcessingTimeMS = job.ProcessingTimeMS
	case domain.JobStatusFailed:
		resp.ErrorKind = string(job.ErrorKind)
		resp.ErrorMessage = job.ErrorMessage
		resp.Suggestion = job.Suggestion
	}
	return resp
}
