package recordings

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/internal/transcription"
	"github.com/voxnote/backend/pkg/queue"
	"github.com/voxnote/backend/pkg/response"
	"github.com/voxnote/backend/pkg/retry"
)

// DefaultMaxUploadBytes caps uploaded clips when no limit is configured.
const DefaultMaxUploadBytes = 200 << 20

// Jobs schedules work on the background worker. *queue.Queue implements it.
type Jobs interface {
	EnqueueTranscription(ctx context.Context, payload queue.TranscribePayload) (string, error)
	EnqueueImport(ctx context.Context, payload queue.ImportPayload) (string, error)
}

// TranscriberFunc returns the file transcriber for a language, or nil when none is configured.
type TranscriberFunc func(language string) capture.Transcriber

// HandlerConfig holds request limits and defaults.
type HandlerConfig struct {
	MaxUploadBytes int64
	Language       string
	WebhookSecret  string
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	svc            *Service
	committer      *capture.Committer
	newTranscriber TranscriberFunc
	info           func() transcription.Info
	pub            Publisher
	jobs           Jobs // optional: re-transcription and imports run on the worker
	cfg            HandlerConfig
	logger         *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(svc *Service, committer *capture.Committer, newTranscriber TranscriberFunc, info func() transcription.Info, pub Publisher, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		svc:            svc,
		committer:      committer,
		newTranscriber: newTranscriber,
		info:           info,
		pub:            pub,
		cfg:            cfg,
		logger:         logger,
	}
}

// SetJobs routes re-transcription and imports through the job queue.
func (h *Handler) SetJobs(j Jobs) { h.jobs = j }

// Info handles GET /transcription/info.
func (h *Handler) Info(c *gin.Context) {
	info := h.info()
	response.OK(c, gin.H{
		"strategy":        info.Strategy,
		"live":            info.Live,
		"online":          info.Online,
		"queue_available": h.jobs != nil,
	})
}

// List handles GET /recordings.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.ListAll(c.Request.Context())
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// Get handles GET /recordings/:id.
func (h *Handler) Get(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, rec)
}

// Upload handles POST /recordings: a multipart clip in "file", with optional "name", "duration_seconds"
// and "language". The clip is saved first; transcription continues in the background.
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(c, "file exceeds upload limit")
			return
		}
		response.BadRequest(c, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "invalid file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.BadRequest(c, "invalid file")
		return
	}
	if len(data) == 0 {
		response.BadRequest(c, "file is empty")
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = sniffAudioType(data)
	}
	duration := 0
	if v := c.PostForm("duration_seconds"); v != "" {
		duration, err = strconv.Atoi(v)
		if err != nil || duration < 0 {
			response.BadRequest(c, "invalid duration_seconds")
			return
		}
	} else if secs, ok := capture.WAVDuration(data); ok {
		duration = secs
	}
	language := c.DefaultPostForm("language", h.cfg.Language)

	rec := &models.Recording{
		Name:            c.PostForm("name"),
		Audio:           data,
		ContentType:     contentType,
		DurationSeconds: duration,
		CreatedAt:       time.Now().UTC(),
	}
	saved, err := h.committer.Commit(c.Request.Context(), rec, h.transcriber(language), language, capture.CommitEvents{})
	if err != nil {
		h.logger.Error("save uploaded recording failed", zap.Error(err))
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.Internal(c, "failed to save recording")
		return
	}
	response.Created(c, saved)
}

type updateRequest struct {
	Name       *string `json:"name"`
	Transcript *string `json:"transcript"`
}

// Update handles PATCH /recordings/:id. A transcript edit replaces any automatic transcript and its timings.
func (h *Handler) Update(c *gin.Context) {
	var body updateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.Name == nil && body.Transcript == nil {
		response.BadRequest(c, "nothing to update")
		return
	}
	id := c.Param("id")
	var patch models.RecordingPatch
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			response.BadRequest(c, "name must not be empty")
			return
		}
		patch.Name = &name
	}
	if body.Transcript != nil {
		status := models.TranscriptStatusCompleted
		strategy := string(transcription.StrategyManual)
		empty := ""
		utterances := []models.Utterance{}
		words := []models.WordTiming{}
		patch.Transcript = body.Transcript
		patch.TranscriptStatus = &status
		patch.TranscriptStrategy = &strategy
		patch.TranscriptError = &empty
		patch.Utterances = &utterances
		patch.Words = &words
		h.committer.Cancel(id)
	}
	if err := h.svc.Update(c.Request.Context(), id, patch); err != nil {
		h.fail(c, id, "update recording", err)
		return
	}
	rec, ok := h.load(c)
	if !ok {
		return
	}
	h.pub.Publish(EventRecordingUpdated, rec)
	response.OK(c, rec)
}

// Delete handles DELETE /recordings/:id. A transcription still running for the recording is abandoned.
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	h.committer.Cancel(id)
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, id, "delete recording", err)
		return
	}
	h.logger.Info("recording deleted", zap.String("recording_id", id))
	h.pub.Publish(EventRecordingDeleted, gin.H{"id": id})
	response.NoContent(c)
}

type transcribeRequest struct {
	Language string `json:"language"`
}

// Transcribe handles POST /recordings/:id/transcribe. With a job queue the work is handed to the worker,
// otherwise it runs in this process.
func (h *Handler) Transcribe(c *gin.Context) {
	var body transcribeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	language := body.Language
	if language == "" {
		language = h.cfg.Language
	}
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if h.committer.Pending(rec.ID) {
		response.Conflict(c, "transcription already in progress")
		return
	}
	ctx := c.Request.Context()

	if h.jobs != nil {
		if err := h.markPending(ctx, rec); err != nil {
			h.fail(c, rec.ID, "mark recording pending", err)
			return
		}
		jobID, err := h.jobs.EnqueueTranscription(ctx, queue.TranscribePayload{RecordingID: rec.ID, Language: language})
		if err != nil {
			h.logger.Error("enqueue transcription failed", zap.Error(err), zap.String("recording_id", rec.ID))
			response.Internal(c, "failed to enqueue transcription")
			return
		}
		response.Accepted(c, gin.H{"recording_id": rec.ID, "job_id": jobID, "status": "queued"})
		return
	}

	tr := h.transcriber(language)
	if tr == nil {
		response.ServiceUnavailable(c, "file transcription is not configured")
		return
	}
	data, err := h.svc.Audio(ctx, rec)
	if err != nil {
		h.logger.Error("load recording audio failed", zap.Error(err), zap.String("recording_id", rec.ID))
		response.Internal(c, "failed to load recording audio")
		return
	}
	if err := h.markPending(ctx, rec); err != nil {
		h.fail(c, rec.ID, "mark recording pending", err)
		return
	}
	h.committer.Transcribe(rec, AudioFor(rec, data, language), tr, capture.CommitEvents{})
	response.Accepted(c, gin.H{"recording_id": rec.ID, "status": models.TranscriptStatusPending})
}

// DownloadURL handles GET /recordings/:id/download-url.
func (h *Handler) DownloadURL(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	url, expires, err := h.svc.DownloadURL(c.Request.Context(), rec)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", rec.ID))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expires.Seconds())})
}

func (h *Handler) transcriber(language string) capture.Transcriber {
	if h.newTranscriber == nil {
		return nil
	}
	return h.newTranscriber(language)
}

func (h *Handler) markPending(ctx context.Context, rec *models.Recording) error {
	status := models.TranscriptStatusPending
	empty := ""
	patch := models.RecordingPatch{TranscriptStatus: &status, TranscriptError: &empty}
	if err := h.svc.Update(ctx, rec.ID, patch); err != nil {
		return err
	}
	patch.Apply(rec)
	return nil
}

func (h *Handler) load(c *gin.Context) (*models.Recording, bool) {
	id := c.Param("id")
	rec, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, id, "get recording", err)
		return nil, false
	}
	return rec, true
}

func (h *Handler) fail(c *gin.Context, id, op string, err error) {
	if errors.Is(err, models.ErrRecordingNotFound) {
		response.NotFound(c, "recording not found")
		return
	}
	h.logger.Error(op+" failed", zap.Error(err), zap.String("recording_id", id))
	response.Internal(c, "failed to "+op)
}

// AudioFor builds the transcription input for a stored recording.
func AudioFor(rec *models.Recording, data []byte, language string) transcription.Audio {
	return transcription.Audio{
		Data:        data,
		ContentType: rec.ContentType,
		Filename:    rec.Name + models.AudioExtension(rec.ContentType),
		Language:    language,
	}
}

func sniffAudioType(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "audio/wave":
		return "audio/wav"
	default:
		return ct
	}
}
