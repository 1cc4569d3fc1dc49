// Package main runs the background job worker (queued transcriptions and recording imports).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voxnote/backend/config"
	"github.com/voxnote/backend/internal/app"
	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/realtime"
	"github.com/voxnote/backend/internal/recordings"
	"github.com/voxnote/backend/internal/worker"
	"github.com/voxnote/backend/pkg/queue"
	"github.com/voxnote/backend/pkg/redis"
)

func main() {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Redis.Enabled {
		logger.Fatal("worker needs Redis: set REDIS_ENABLED=true")
	}

	ctx := context.Background()
	repo, closeRepo, err := app.OpenRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer closeRepo()

	blobs, err := app.OpenBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Library events reach the API servers' sockets through Redis.
	events := realtime.NewRedisPubSub(rdb.Client, logger)
	svc := recordings.NewService(repo, blobs, logger)
	committer := capture.NewCommitter(workerCtx, svc, app.RetryPolicy(cfg, logger), recordings.CommitEvents(events), logger)
	factory := app.NewTranscriptionFactory(cfg, nil, logger)
	importer := recordings.NewImporter(committer, nil, cfg.Capture.MaxUploadBytes, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewTranscriptionProcessor(svc, committer, importer, app.FileTranscriber(factory), jobQueue, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started", zap.String("strategy", string(factory.Info().Strategy)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}
