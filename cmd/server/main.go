// Package main runs the recording HTTP server with WebSocket capture and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxnote/backend/config"
	"github.com/voxnote/backend/internal/app"
	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/middleware"
	"github.com/voxnote/backend/internal/realtime"
	"github.com/voxnote/backend/internal/recordings"
	"github.com/voxnote/backend/internal/transcription"
	"github.com/voxnote/backend/internal/worker"
	"github.com/voxnote/backend/pkg/queue"
	"github.com/voxnote/backend/pkg/redis"
	"github.com/voxnote/backend/pkg/response"
)

func main() {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
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
	svc := recordings.NewService(repo, blobs, logger)

	// Redis is optional: without it jobs run in-process and library events stay on this instance.
	var (
		jobQueue *queue.Queue
		hub      *realtime.Hub
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		jobQueue = queue.NewQueue(rdb.Client, logger)
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub)
		stopRelay, err := hub.Start(redisPubSub)
		if err != nil {
			logger.Fatal("subscribe library events", zap.Error(err))
		}
		defer stopRelay()
	} else {
		hub = realtime.NewHub(logger, nil)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	monitor := app.NewMonitor(cfg, logger)
	go monitor.Run(bgCtx)

	factory := app.NewTranscriptionFactory(cfg, monitor, logger)
	fileTranscriber := app.FileTranscriber(factory)
	committer := capture.NewCommitter(bgCtx, svc, app.RetryPolicy(cfg, logger), recordings.CommitEvents(hub), logger)

	recordingHandler := recordings.NewHandler(svc, committer, fileTranscriber, factory.Info, hub, recordings.HandlerConfig{
		MaxUploadBytes: cfg.Capture.MaxUploadBytes,
		Language:       cfg.Transcription.Language,
		WebhookSecret:  cfg.Server.WebhookSecret,
	}, logger)
	if jobQueue != nil {
		recordingHandler.SetJobs(jobQueue)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger, "/health"))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok", "online": monitor.Online()}) })
	router.GET("/transcription/info", recordingHandler.Info)

	// Recordings
	recs := router.Group("/recordings")
	{
		recs.GET("", recordingHandler.List)
		recs.POST("", recordingHandler.Upload)
		recs.GET("/:id", recordingHandler.Get)
		recs.PATCH("/:id", recordingHandler.Update)
		recs.DELETE("/:id", recordingHandler.Delete)
		recs.POST("/:id/transcribe", recordingHandler.Transcribe)
		recs.GET("/:id/download-url", recordingHandler.DownloadURL)
	}

	// Webhooks (no session; shared secret checked in handler when configured)
	router.POST("/webhooks/recording-ready", recordingHandler.RecordingReady)

	// Local blob storage is served by this process.
	if cfg.Storage.Driver == config.StorageLocal {
		router.Static("/files", cfg.Storage.LocalDir)
	}

	// WebSocket
	router.GET("/ws/capture", realtime.ServeCapture(realtime.CaptureDeps{
		NewOrchestrator: func(sampleRate int, language string, obs transcription.Observer) capture.Orchestrator {
			return factory.New(sampleRate, language, obs)
		},
		Committer: committer,
		Monitor:   monitor,
		Config: capture.Config{
			MaxDuration: cfg.Capture.MaxDuration,
			WarningLead: cfg.Capture.WarningLead,
		},
		Language: cfg.Transcription.Language,
		Logger:   logger,
	}))
	router.GET("/ws/library", realtime.ServeLibrary(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (queued transcriptions and imports)
	workerDone := make(chan struct{})
	if jobQueue != nil && cfg.Server.RunWorker {
		importer := recordings.NewImporter(committer, nil, cfg.Capture.MaxUploadBytes, logger)
		processor := worker.NewTranscriptionProcessor(svc, committer, importer, fileTranscriber, jobQueue, logger)
		go func() {
			defer close(workerDone)
			processor.Run(bgCtx)
		}()
		logger.Info("transcription worker started")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("strategy", string(factory.Info().Strategy)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	bgCancel()
	committer.Wait()
	<-workerDone
	logger.Info("server stopped")
}
