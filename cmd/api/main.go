package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jbellot/iris-art/internal/adapter/repo"
	"github.com/jbellot/iris-art/internal/admission"
	"github.com/jbellot/iris-art/internal/http/handlers"
	"github.com/jbellot/iris-art/internal/http/httpapi"
	"github.com/jbellot/iris-art/internal/infra"
	"github.com/jbellot/iris-art/internal/middleware"
	"github.com/jbellot/iris-art/internal/progress"
	"github.com/jbellot/iris-art/internal/queue"
	"github.com/jbellot/iris-art/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	if err := infra.Migrate(pool); err != nil {
		logger.Fatal().Err(err).Msg("api: migrations failed")
	}

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	defer redisClient.Close()

	signer := storage.NewURLSigner(cfg.StorageBaseURL, cfg.PresignSecret)
	store, err := storage.NewFileStore(cfg.StoragePath, signer)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage setup failed")
	}

	jobs := repo.NewJobRepository(pool)
	dispatcher := queue.NewDispatcher(cfg, logger)
	defer dispatcher.Close()
	tracker := progress.NewRedisTracker(redisClient)
	bridge := progress.NewBridge(jobs, tracker)
	gate := admission.NewQuotaGate(jobs, cfg.MonthlyQuota, middleware.PlanPremium)

	app := handlers.NewApp(cfg, jobs, dispatcher, bridge, store, gate, logger)
	router := httpapi.NewRouter(cfg, app, signer, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
