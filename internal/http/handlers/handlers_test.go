package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jbellot/iris-art/internal/admission"
	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/infra"
	"github.com/jbellot/iris-art/internal/middleware"
	"github.com/jbellot/iris-art/internal/progress"
)

type fakeRepo struct {
	jobs    map[string]*domain.Job
	photos  map[string]*domain.Job
	created []*domain.Job
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:   make(map[string]*domain.Job),
		photos: make(map[string]*domain.Job),
	}
}

func (f *fakeRepo) Create(_ context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	f.created = append(f.created, job)
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeRepo) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	job, err := f.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (f *fakeRepo) MarkProcessing(context.Context, string, int) error        { return nil }
func (f *fakeRepo) Checkpoint(context.Context, string, int, string) error    { return nil }
func (f *fakeRepo) Complete(context.Context, string, domain.JobResult) error { return nil }
func (f *fakeRepo) Fail(context.Context, string, domain.ErrorKind, string, string, int) error {
	return nil
}
func (f *fakeRepo) LatestCompletedForPhoto(_ context.Context, userID, photoID string) (*domain.Job, error) {
	job, ok := f.photos[photoID]
	if !ok || job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (f *fakeRepo) addPhotoArtwork(userID, photoID string) {
	f.photos[photoID] = &domain.Job{
		ID:        "art-" + photoID,
		UserID:    userID,
		Kind:      domain.JobKindProcessing,
		Status:    domain.JobStatusCompleted,
		ResultKey: "processed/" + userID + "/art-" + photoID + ".jpg",
	}
}
func (f *fakeRepo) CountForUserMonth(context.Context, string, string, []domain.JobKind) (int, error) {
	return 0, nil
}

type fakeDispatcher struct {
	enqueued []*domain.Job
	batches  [][]*domain.Job
}

func (f *fakeDispatcher) Enqueue(_ context.Context, job *domain.Job, _ int) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeDispatcher) EnqueueBatch(_ context.Context, jobs []*domain.Job) error {
	f.batches = append(f.batches, jobs)
	return nil
}

type fakeGate struct {
	decision admission.Decision
}

func (f *fakeGate) CanAdmit(context.Context, string, string, domain.JobKind) (admission.Decision, error) {
	return f.decision, nil
}

type fakeStore struct{}

func (fakeStore) Get(context.Context, string) ([]byte, error)    { return nil, domain.ErrNotFound }
func (fakeStore) Put(context.Context, string, []byte, string) error { return nil }
func (fakeStore) Delete(context.Context, string) error           { return nil }
func (fakeStore) Presign(key string, _ time.Duration) (string, error) {
	return "https://files.test/" + key + "?sig=abc", nil
}

type fakeTracker struct{}

func (fakeTracker) Set(context.Context, string, progress.TaskState) error { return nil }
func (fakeTracker) Get(context.Context, string) (progress.TaskState, bool, error) {
	return progress.TaskState{}, false, nil
}
func (fakeTracker) Clear(context.Context, string) error { return nil }

type testEnv struct {
	app        *App
	repo       *fakeRepo
	dispatcher *fakeDispatcher
	gate       *fakeGate
	router     http.Handler
}

func newTestEnv() *testEnv {
	repo := newFakeRepo()
	dispatcher := &fakeDispatcher{}
	gate := &fakeGate{decision: admission.Decision{Allowed: true, Remaining: 2}}
	app := &App{
		Jobs:         repo,
		Dispatcher:   dispatcher,
		Bridge:       progress.NewBridge(repo, fakeTracker{}),
		Store:        fakeStore{},
		Gate:         gate,
		Logger:       infra.NewLogger("test"),
		PresignTTL:   time.Hour,
		PollInterval: 5 * time.Millisecond,
		StreamBudget: 50 * time.Millisecond,
	}

	r := chi.NewRouter()
	r.Post("/v1/process", app.ProcessCreate)
	r.Post("/v1/styles", app.StyleCreate)
	r.Post("/v1/exports", app.ExportCreate)
	r.Post("/v1/exports/batch", app.ExportCreateBatch)
	r.Post("/v1/fusions", app.FusionCreate)
	r.Get("/v1/jobs/{id}", app.JobStatus)
	r.Get("/v1/jobs/{id}/stream", app.JobStream)

	return &testEnv{app: app, repo: repo, dispatcher: dispatcher, gate: gate, router: r}
}

func (e *testEnv) do(method, path, body, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestProcessCreate(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/process", `{"photo_id":"photo-1"}`, "user-1")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	var resp jobCreatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.Status != "pending" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.RemainingQuota != 2 {
		t.Fatalf("remaining quota = %d, want 2", resp.RemainingQuota)
	}
	if len(env.repo.created) != 1 || len(env.dispatcher.enqueued) != 1 {
		t.Fatalf("created=%d enqueued=%d, want 1/1", len(env.repo.created), len(env.dispatcher.enqueued))
	}
	if env.repo.created[0].ID != env.dispatcher.enqueued[0].ID {
		t.Fatalf("enqueued task id must equal created job id")
	}
}

func TestProcessCreateUnauthorized(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/process", `{"photo_id":"photo-1"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProcessCreateMissingPhotoID(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/process", `{}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessCreateQuotaExceeded(t *testing.T) {
	env := newTestEnv()
	env.gate.decision = admission.Decision{Allowed: false, Reason: "Monthly limit of 3 artworks reached."}

	rec := env.do(http.MethodPost, "/v1/process", `{"photo_id":"photo-1"}`, "user-1")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(env.repo.created) != 0 {
		t.Fatalf("denied request must not create a job")
	}
	if !strings.Contains(rec.Body.String(), "quota_exceeded") {
		t.Fatalf("body = %s, want quota_exceeded code", rec.Body.String())
	}
}

func TestStyleCreateUnknownStyle(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/v1/styles", `{"photo_id":"p1","style_id":"sepia-dream"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExportCreateValidatesSource(t *testing.T) {
	env := newTestEnv()

	rec := env.do(http.MethodPost, "/v1/exports", `{"source_type":"hologram","source_job_id":"x"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad source_type status = %d, want 400", rec.Code)
	}

	rec = env.do(http.MethodPost, "/v1/exports", `{"source_type":"styled","source_job_id":"missing"}`, "user-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing source status = %d, want 404", rec.Code)
	}
}

func TestExportCreateBatch(t *testing.T) {
	env := newTestEnv()
	for _, id := range []string{"s1", "s2"} {
		env.repo.jobs[id] = &domain.Job{
			ID: id, UserID: "user-1", Kind: domain.JobKindStyle,
			Status: domain.JobStatusCompleted, ResultKey: "styled/user-1/" + id + ".jpg",
		}
	}

	body := `{"items":[
		{"source_type":"styled","source_job_id":"s1"},
		{"source_type":"styled","source_job_id":"s2","paid":true}
	]}`
	rec := env.do(http.MethodPost, "/v1/exports/batch", body, "user-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	if len(env.dispatcher.batches) != 1 || len(env.dispatcher.batches[0]) != 2 {
		t.Fatalf("batches = %+v, want one batch of two", env.dispatcher.batches)
	}
}

func TestFusionCreateValidation(t *testing.T) {
	env := newTestEnv()
	for _, photoID := range []string{"p1", "p2", "p3"} {
		env.repo.addPhotoArtwork("user-1", photoID)
	}

	rec := env.do(http.MethodPost, "/v1/fusions", `{"photo_ids":["p1"],"fusion_type":"blend"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("single photo status = %d, want 400", rec.Code)
	}

	rec = env.do(http.MethodPost, "/v1/fusions", `{"photo_ids":["p1","p2","p3","p1","p2"],"fusion_type":"blend"}`, "user-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("five photos status = %d, want 400", rec.Code)
	}

	rec = env.do(http.MethodPost, "/v1/fusions", `{"photo_ids":["p1","p2"],"fusion_type":"blend"}`, "user-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	job := env.repo.created[len(env.repo.created)-1]
	if job.Kind != domain.JobKindFusion || job.Params.BlendMode != domain.BlendModePoisson {
		t.Fatalf("job = kind %s mode %s, want fusion/poisson default", job.Kind, job.Params.BlendMode)
	}

	rec = env.do(http.MethodPost, "/v1/fusions", `{"photo_ids":["p1","p2","p3"],"fusion_type":"composition","layout":"grid_2x2"}`, "user-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("composition status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	job = env.repo.created[len(env.repo.created)-1]
	if job.Kind != domain.JobKindComposition || job.Params.Layout != domain.LayoutGrid2x2 {
		t.Fatalf("job = kind %s layout %s, want composition/grid_2x2", job.Kind, job.Params.Layout)
	}
}

func TestFusionCreateRejectsUnprocessedPhoto(t *testing.T) {
	env := newTestEnv()
	env.repo.addPhotoArtwork("user-1", "p1")

	for _, body := range []string{
		`{"photo_ids":["p1","fresh-upload"],"fusion_type":"blend"}`,
		`{"photo_ids":["p1","fresh-upload"],"fusion_type":"composition"}`,
	} {
		rec := env.do(http.MethodPost, "/v1/fusions", body, "user-1")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404 (%s)", rec.Code, rec.Body.String())
		}
	}
	if len(env.repo.created) != 0 || len(env.dispatcher.enqueued) != 0 {
		t.Fatalf("rejected fusion must not create or enqueue a job")
	}
}

func TestFusionCreateIgnoresForeignPhotoArtwork(t *testing.T) {
	env := newTestEnv()
	env.repo.addPhotoArtwork("user-1", "p1")
	env.repo.addPhotoArtwork("someone-else", "p2")

	rec := env.do(http.MethodPost, "/v1/fusions", `{"photo_ids":["p1","p2"],"fusion_type":"blend"}`, "user-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for another user's artwork", rec.Code)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/v1/jobs/ghost", "", "user-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobStatusForeignJobIsNotFound(t *testing.T) {
	env := newTestEnv()
	env.repo.jobs["j1"] = &domain.Job{ID: "j1", UserID: "someone-else", Status: domain.JobStatusPending}

	rec := env.do(http.MethodGet, "/v1/jobs/j1", "", "user-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign job", rec.Code)
	}
}

func TestJobStatusCompleted(t *testing.T) {
	env := newTestEnv()
	done := time.Now()
	env.repo.jobs["j1"] = &domain.Job{
		ID:          "j1",
		UserID:      "user-1",
		Kind:        domain.JobKindProcessing,
		Status:      domain.JobStatusCompleted,
		Progress:    100,
		ResultKey:   "processed/user-1/j1.jpg",
		MaskKey:     "processed/user-1/j1_mask.png",
		ResultWidth: 2048, ResultHeight: 2048,
		CompletedAt: &done,
	}

	rec := env.do(http.MethodGet, "/v1/jobs/j1", "", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Progress != 100 || resp.StepDisplay != "Complete!" {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.HasPrefix(resp.ResultURL, "https://files.test/processed/") {
		t.Fatalf("result_url = %q, want presigned URL", resp.ResultURL)
	}
	if resp.ErrorMessage != "" {
		t.Fatalf("completed job must carry no error fields")
	}
}

func TestJobStatusFailed(t *testing.T) {
	env := newTestEnv()
	env.repo.jobs["j1"] = &domain.Job{
		ID:           "j1",
		UserID:       "user-1",
		Kind:         domain.JobKindProcessing,
		Status:       domain.JobStatusFailed,
		ErrorKind:    domain.ErrorKindQuality,
		ErrorMessage: "Iris not detected clearly - mask coverage too small",
		Suggestion:   "Try capturing a new photo in better lighting with your eye centered.",
	}

	rec := env.do(http.MethodGet, "/v1/jobs/j1", "", "user-1")
	var resp jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ErrorKind != string(domain.ErrorKindQuality) || resp.Suggestion == "" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.ResultURL != "" {
		t.Fatalf("failed job must carry no result URL")
	}
}

func TestJobStreamCompletedJobEmitsOneEvent(t *testing.T) {
	env := newTestEnv()
	env.repo.jobs["j1"] = &domain.Job{
		ID:        "j1",
		UserID:    "user-1",
		Kind:      domain.JobKindProcessing,
		Status:    domain.JobStatusCompleted,
		ResultKey: "processed/user-1/j1.jpg",
	}

	rec := env.do(http.MethodGet, "/v1/jobs/j1/stream", "", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if got := strings.Count(body, "event: completed"); got != 1 {
		t.Fatalf("completed events = %d, want exactly 1 (%s)", got, body)
	}
	if strings.Contains(body, "event: progress") {
		t.Fatalf("already-terminal stream must not emit progress events")
	}
}

func TestJobStreamTimesOutAndLeavesJobRunning(t *testing.T) {
	env := newTestEnv()
	env.repo.jobs["j1"] = &domain.Job{
		ID:          "j1",
		UserID:      "user-1",
		Kind:        domain.JobKindProcessing,
		Status:      domain.JobStatusProcessing,
		Progress:    40,
		CurrentStep: "segmenting",
	}

	rec := env.do(http.MethodGet, "/v1/jobs/j1/stream", "", "user-1")
	body := rec.Body.String()
	// A stalled job still gets one progress event per tick; the cadence is the
	// client's heartbeat.
	if got := strings.Count(body, "event: progress"); got < 2 {
		t.Fatalf("progress events = %d, want one per tick even without movement (%s)", got, body)
	}
	if !strings.Contains(body, "event: timeout") {
		t.Fatalf("stream missing timeout event after budget: %s", body)
	}
	if env.repo.jobs["j1"].Status != domain.JobStatusProcessing {
		t.Fatalf("stream timeout must not touch the job")
	}
}

func TestJobStreamClientDisconnectLeavesJobRunning(t *testing.T) {
	env := newTestEnv()
	env.app.StreamBudget = time.Second
	env.repo.jobs["j1"] = &domain.Job{
		ID:          "j1",
		UserID:      "user-1",
		Kind:        domain.JobKindProcessing,
		Status:      domain.JobStatusProcessing,
		Progress:    40,
		CurrentStep: "segmenting",
	}

	ctx, cancel := context.WithCancel(middleware.ContextWithUserID(context.Background(), "user-1"))
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/j1/stream", nil).WithContext(ctx)
	time.AfterFunc(20*time.Millisecond, cancel)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "event: timeout") || strings.Contains(body, "event: completed") {
		t.Fatalf("disconnect must end the stream silently: %s", body)
	}
	if got := env.repo.jobs["j1"]; got.Status != domain.JobStatusProcessing || got.Progress != 40 {
		t.Fatalf("job after disconnect = %s/%d, want untouched processing/40", got.Status, got.Progress)
	}
}

func TestJobStreamUnknownJobIs404(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/v1/jobs/ghost/stream", "", "user-1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
