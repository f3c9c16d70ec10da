package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jbellot/iris-art/internal/adapter/repo"
	"github.com/jbellot/iris-art/internal/infra"
	"github.com/jbellot/iris-art/internal/progress"
	"github.com/jbellot/iris-art/internal/queue"
	"github.com/jbellot/iris-art/internal/storage"
	"github.com/jbellot/iris-art/internal/worker"
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
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer redisClient.Close()

	// The worker never issues presigned URLs, so no signer.
	store, err := storage.NewFileStore(cfg.StoragePath, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage setup failed")
	}

	jobs := repo.NewJobRepository(pool)
	tracker := progress.NewRedisTracker(redisClient)
	runtime := worker.NewRuntime(jobs, store, tracker, worker.NewModelCache(), logger)

	consumer := queue.NewConsumer(cfg, runtime.Handle, logger)

	logger.Info().Msg("worker: started")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
