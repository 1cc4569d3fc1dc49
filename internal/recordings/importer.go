package recordings

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/pkg/queue"
)

// Importer fetches a clip from a URL and saves it through the committer.
type Importer struct {
	committer *capture.Committer
	client    *http.Client
	maxBytes  int64
	logger    *zap.Logger
}

// NewImporter creates an importer. A nil client uses a 5 minute timeout.
func NewImporter(committer *capture.Committer, client *http.Client, maxBytes int64, logger *zap.Logger) *Importer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{committer: committer, client: client, maxBytes: maxBytes, logger: logger}
}

// Import downloads payload.FileURL and runs phase one of the commit. The caller decides how to transcribe.
func (i *Importer) Import(ctx context.Context, payload queue.ImportPayload) (*models.Recording, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.FileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read download: %w", err)
	}
	if int64(len(data)) > i.maxBytes {
		return nil, fmt.Errorf("download exceeds %d bytes", i.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download is empty")
	}

	contentType := payload.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = sniffAudioType(data)
	}
	duration := payload.DurationSeconds
	if duration == 0 {
		duration, _ = capture.WAVDuration(data)
	}
	rec := &models.Recording{
		Name:            payload.Name,
		Audio:           data,
		ContentType:     contentType,
		DurationSeconds: duration,
		CreatedAt:       time.Now().UTC(),
	}
	saved, err := i.committer.Commit(ctx, rec, nil, payload.Language, capture.CommitEvents{})
	if err != nil {
		return nil, err
	}
	saved.Audio = data
	i.logger.Info("recording imported", zap.String("recording_id", saved.ID), zap.Int("bytes", len(data)))
	return saved, nil
}
