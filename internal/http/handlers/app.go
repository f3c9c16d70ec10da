// Package handlers implements the HTTP surface: job creation, status query,
// live progress streaming and signed file downloads.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jbellot/iris-art/internal/admission"
	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/infra"
	"github.com/jbellot/iris-art/internal/middleware"
	"github.com/jbellot/iris-art/internal/progress"
	"github.com/jbellot/iris-art/internal/storage"
)

// TaskDispatcher is the queue surface the API needs; satisfied by
// queue.Dispatcher and by fakes in tests.
type TaskDispatcher interface {
	Enqueue(ctx context.Context, job *domain.Job, priority int) error
	EnqueueBatch(ctx context.Context, jobs []*domain.Job) error
}

type App struct {
	Jobs       domain.JobRepository
	Dispatcher TaskDispatcher
	Bridge     *progress.Bridge
	Store      storage.Store
	Gate       admission.Gate
	Logger     infra.Logger

	PresignTTL   time.Duration
	PollInterval time.Duration
	StreamBudget time.Duration
}

func NewApp(cfg *infra.Config, jobs domain.JobRepository, dispatcher TaskDispatcher, bridge *progress.Bridge, store storage.Store, gate admission.Gate, logger infra.Logger) *App {
	return &App{
		Jobs:         jobs,
		Dispatcher:   dispatcher,
		Bridge:       bridge,
		Store:        store,
		Gate:         gate,
		Logger:       logger,
		PresignTTL:   cfg.PresignTTL,
		PollInterval: cfg.StreamPollInterval,
		StreamBudget: cfg.StreamMaxDuration,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// presign maps a storage key to a time-limited download URL; empty keys map
// to empty strings so callers can assign unconditionally.
func (a *App) presign(key string) string {
	if key == "" {
		return ""
	}
	url, err := a.Store.Presign(key, a.PresignTTL)
	if err != nil {
		a.Logger.Warn().Err(err).Str("key", key).Msg("api: presign failed")
		return ""
	}
	return url
}
