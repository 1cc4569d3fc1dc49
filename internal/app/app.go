// Package app assembles the collaborators shared by the server and worker processes.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voxnote/backend/config"
	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/netmon"
	"github.com/voxnote/backend/internal/recordings"
	"github.com/voxnote/backend/internal/transcription"
	"github.com/voxnote/backend/pkg/database"
	"github.com/voxnote/backend/pkg/retry"
	"github.com/voxnote/backend/pkg/storage"
)

// NewLogger builds the production logger.
func NewLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// OpenRepository connects to the configured metadata database and applies migrations. close releases it.
func OpenRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repo recordings.Repository, closeFn func(), err error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		var pool *pgxpool.Pool
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, nil, err
		}
		if err = database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return recordings.NewPostgresRepository(pool), pool.Close, nil
	case config.DriverSQLite:
		var db *sql.DB
		db, err = database.OpenSQLite(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return recordings.NewSQLiteRepository(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// OpenBlobStore returns the configured audio store.
func OpenBlobStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (recordings.BlobStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageS3:
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.RecordingsBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s3, nil
	case config.StorageLocal:
		local, err := storage.NewLocal(cfg.Storage.LocalDir, cfg.Storage.BaseURL, logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NewMonitor creates the network monitor. Call Run to start probing.
func NewMonitor(cfg *config.Config, logger *zap.Logger) *netmon.Monitor {
	return netmon.New(netmon.Config{
		ProbeURL: cfg.Network.ProbeURL,
		Interval: cfg.Network.ProbeInterval,
	}, logger)
}

// NewTranscriptionFactory wires the vendors named in cfg into an orchestrator factory.
func NewTranscriptionFactory(cfg *config.Config, monitor *netmon.Monitor, logger *zap.Logger) *transcription.Factory {
	tc := cfg.Transcription
	deps := transcription.Dependencies{
		Engine: transcription.NewWSEngine(transcription.WSEngineConfig{
			URL:         tc.EngineURL,
			APIKey:      tc.EngineAPIKey,
			Model:       tc.EngineModel,
			SmartFormat: true,
		}, logger),
		SampleRate: int(capture.QualityLow),
		Monitor:    monitor,
		Logger:     logger,
	}
	if tc.BatchURL != "" {
		deps.Hosted = transcription.NewHostedJobTranscriber(transcription.HostedJobConfig{
			BaseURL:      tc.BatchURL,
			APIKey:       tc.BatchAPIKey,
			PollInterval: tc.PollInterval,
			HardCeiling:  tc.HardCeiling,
		}, nil, logger)
	}
	if tc.OneshotURL != "" {
		deps.OneShot = transcription.NewOneShotTranscriber(transcription.OneShotConfig{
			BaseURL: tc.OneshotURL,
			APIKey:  tc.OneshotAPIKey,
			Model:   tc.OneshotModel,
		}, nil, logger)
	}
	return &transcription.Factory{
		Config: transcription.Config{
			UseHostedBatch:   tc.UseHostedBatch,
			UseHostedOneshot: tc.UseHostedOneshot,
			Language:         tc.Language,
		},
		Dependencies: deps,
	}
}

// FileTranscriber adapts the factory to recordings.TranscriberFunc. It yields nil when only live recognition
// is configured.
func FileTranscriber(f *transcription.Factory) recordings.TranscriberFunc {
	return func(language string) capture.Transcriber {
		o := f.FileTranscriber(language, transcription.Observer{})
		if o == nil {
			return nil
		}
		return o
	}
}

// RetryPolicy returns the persistence retry policy from cfg.
func RetryPolicy(cfg *config.Config, logger *zap.Logger) retry.Policy {
	p := retry.New(logger)
	if cfg.Retry.Attempts > 0 {
		p.Attempts = cfg.Retry.Attempts
	}
	if cfg.Retry.BaseDelay > 0 {
		p.BaseDelay = cfg.Retry.BaseDelay
	}
	return p
}
