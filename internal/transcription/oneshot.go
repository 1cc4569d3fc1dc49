package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OneShotConfig configures the hosted one-shot endpoint.
type OneShotConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OneShotTranscriber sends a clip in a single multipart request and reads the final transcript from the reply.
type OneShotTranscriber struct {
	cfg    OneShotConfig
	client *http.Client
	logger *zap.Logger
}

func NewOneShotTranscriber(cfg OneShotConfig, client *http.Client, logger *zap.Logger) *OneShotTranscriber {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OneShotTranscriber{cfg: cfg, client: client, logger: logger}
}

func (t *OneShotTranscriber) Kind() StrategyKind { return StrategyHostedOneshot }

// Transcribe makes one request. Failures are not retried here.
func (t *OneShotTranscriber) Transcribe(ctx context.Context, audio Audio) Result {
	body, contentType, err := buildOneShotBody(audio, t.cfg.Model)
	if err != nil {
		return failure(StrategyHostedOneshot, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return failure(StrategyHostedOneshot, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", contentType)
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return failure(StrategyHostedOneshot, "transcription cancelled")
		}
		t.logger.Warn("one-shot transcription request failed", zap.Error(err))
		return failure(StrategyHostedOneshot, fmt.Sprintf("transcription request failed: %v", err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorField(raw)
		if msg == "" {
			msg = fmt.Sprintf("transcription failed with status %d", resp.StatusCode)
		}
		t.logger.Warn("one-shot transcription rejected", zap.Int("status", resp.StatusCode), zap.String("error", msg))
		return failure(StrategyHostedOneshot, msg)
	}

	var out struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Text == nil {
		return failure(StrategyHostedOneshot, "response missing transcript")
	}
	return Result{Transcript: strings.TrimSpace(*out.Text), Strategy: StrategyHostedOneshot}
}

func buildOneShotBody(audio Audio, model string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := audio.Filename
	if filename == "" {
		filename = "recording.wav"
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}
	if err := w.WriteField("model", model); err != nil {
		return nil, "", fmt.Errorf("write model: %w", err)
	}
	if audio.Language != "" {
		if err := w.WriteField("language", audio.Language); err != nil {
			return nil, "", fmt.Errorf("write language: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
