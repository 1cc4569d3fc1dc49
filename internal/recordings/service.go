package recordings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/pkg/storage"
)

// BlobStore holds recording audio. *storage.S3 and *storage.Local implement it.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key string) (string, time.Duration, error)
}

// Service is the persistence collaborator: audio goes to the blob store, metadata to the repository.
type Service struct {
	repo   Repository
	blobs  BlobStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a recordings service.
func NewService(repo Repository, blobs BlobStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, blobs: blobs, logger: logger, now: time.Now}
}

// Save uploads rec.Audio, inserts the metadata under a new id and returns the stored recording.
// rec itself is not modified.
func (s *Service) Save(ctx context.Context, rec *models.Recording) (*models.Recording, error) {
	if len(rec.Audio) == 0 {
		return nil, errors.New("recording has no audio")
	}
	saved := *rec
	saved.ID = uuid.NewString()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = s.now().UTC()
	}
	saved.EnsureName()
	if saved.TranscriptStatus == "" {
		saved.TranscriptStatus = models.TranscriptStatusNone
	}
	saved.Words = models.NormalizeWords(saved.Words)
	saved.FileSize = int64(len(rec.Audio))
	saved.AudioKey = storage.RecordingKey(saved.ID, models.AudioExtension(saved.ContentType))

	url, err := s.blobs.Put(ctx, saved.AudioKey, saved.ContentType, rec.Audio)
	if err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}
	saved.AudioURL = url
	saved.Audio = nil

	if err := s.repo.Create(ctx, &saved); err != nil {
		if derr := s.blobs.Delete(ctx, saved.AudioKey); derr != nil {
			s.logger.Warn("remove orphaned audio", zap.String("key", saved.AudioKey), zap.Error(derr))
		}
		return nil, fmt.Errorf("create recording: %w", err)
	}
	s.logger.Debug("recording stored", zap.String("recording_id", saved.ID), zap.String("key", saved.AudioKey))
	return &saved, nil
}

// Update applies patch to a stored recording. Word timings are normalised first.
func (s *Service) Update(ctx context.Context, id string, patch models.RecordingPatch) error {
	if patch.Empty() {
		return nil
	}
	if patch.Words != nil {
		words := models.NormalizeWords(*patch.Words)
		patch.Words = &words
	}
	return s.repo.Update(ctx, id, patch)
}

// Get returns one recording.
func (s *Service) Get(ctx context.Context, id string) (*models.Recording, error) {
	return s.repo.GetByID(ctx, id)
}

// ListAll returns every recording, newest first.
func (s *Service) ListAll(ctx context.Context) ([]models.Recording, error) {
	return s.repo.List(ctx)
}

// Delete removes the metadata and then the audio. A missing blob is not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if rec.AudioKey != "" {
		if err := s.blobs.Delete(ctx, rec.AudioKey); err != nil {
			s.logger.Warn("delete recording audio", zap.String("recording_id", id), zap.Error(err))
		}
	}
	return nil
}

// Audio returns the recording's bytes, from memory when still cached, else from the blob store.
func (s *Service) Audio(ctx context.Context, rec *models.Recording) ([]byte, error) {
	if len(rec.Audio) > 0 {
		return rec.Audio, nil
	}
	if rec.AudioKey == "" {
		return nil, fmt.Errorf("recording %s has no stored audio", rec.ID)
	}
	data, err := s.blobs.Get(ctx, rec.AudioKey)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	return data, nil
}

// DownloadURL returns a time-limited URL for the recording's audio.
func (s *Service) DownloadURL(ctx context.Context, rec *models.Recording) (string, time.Duration, error) {
	if rec.AudioKey == "" {
		return "", 0, fmt.Errorf("recording %s has no stored audio", rec.ID)
	}
	return s.blobs.DownloadURL(ctx, rec.AudioKey)
}
