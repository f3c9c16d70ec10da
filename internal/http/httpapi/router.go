package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jbellot/iris-art/internal/http/handlers"
	"github.com/jbellot/iris-art/internal/infra"
	"github.com/jbellot/iris-art/internal/middleware"
	"github.com/jbellot/iris-art/internal/storage"
)

func NewRouter(cfg *infra.Config, app *handlers.App, signer *storage.URLSigner, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/files/*", app.FileDownload(signer))

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))

		r.Post("/v1/process", app.ProcessCreate)
		r.Get("/v1/styles", app.StyleCatalog)
		r.Post("/v1/styles", app.StyleCreate)
		r.Post("/v1/exports", app.ExportCreate)
		r.Post("/v1/exports/batch", app.ExportCreateBatch)
		r.Post("/v1/fusions", app.FusionCreate)
		r.Get("/v1/jobs/{id}", app.JobStatus)
		r.Get("/v1/jobs/{id}/stream", app.JobStream)
	})

	return r
}
