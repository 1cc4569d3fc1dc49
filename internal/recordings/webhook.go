package recordings

import (
	"crypto/subtle"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/voxnote/backend/pkg/queue"
	"github.com/voxnote/backend/pkg/response"
)

// WebhookSecretHeader carries the shared secret on webhook calls.
const WebhookSecretHeader = "X-Webhook-Secret"

// RecordingReadyPayload is the body an external recorder posts when a clip is ready to import.
type RecordingReadyPayload struct {
	FileURL         string `json:"file_url"`
	Name            string `json:"name"`
	ContentType     string `json:"content_type"`
	DurationSeconds int    `json:"duration_seconds"`
	Language        string `json:"language"`
}

// RecordingReady handles POST /webhooks/recording-ready. The clip is imported and transcribed by the worker.
func (h *Handler) RecordingReady(c *gin.Context) {
	if h.cfg.WebhookSecret != "" {
		got := c.GetHeader(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.WebhookSecret)) != 1 {
			response.Unauthorized(c, "invalid webhook secret")
			return
		}
	}
	var body RecordingReadyPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	u, err := url.Parse(body.FileURL)
	if body.FileURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		response.BadRequest(c, "file_url must be an http(s) URL")
		return
	}
	if body.DurationSeconds < 0 {
		response.BadRequest(c, "invalid duration_seconds")
		return
	}
	if h.jobs == nil {
		response.ServiceUnavailable(c, "import queue not configured")
		return
	}
	language := body.Language
	if language == "" {
		language = h.cfg.Language
	}

	jobID, err := h.jobs.EnqueueImport(c.Request.Context(), queue.ImportPayload{
		FileURL:         body.FileURL,
		Name:            body.Name,
		ContentType:     body.ContentType,
		DurationSeconds: body.DurationSeconds,
		Language:        language,
	})
	if err != nil {
		h.logger.Error("enqueue import failed", zap.Error(err), zap.String("file_url", body.FileURL))
		response.Internal(c, "failed to enqueue import")
		return
	}
	h.logger.Info("recording_ready webhook processed", zap.String("job_id", jobID), zap.String("file_url", body.FileURL))
	response.Accepted(c, gin.H{"job_id": jobID, "status": "queued"})
}
