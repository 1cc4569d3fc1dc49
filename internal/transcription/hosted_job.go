package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/models"
)

const (
	// DefaultPollInterval is the delay between two job polls.
	DefaultPollInterval = time.Second
	// DefaultHardCeiling caps a job's total wait regardless of its size.
	DefaultHardCeiling = 5 * time.Minute

	timeoutBase    = 30 * time.Second
	timeoutPerMB   = 60 * time.Second
	timeoutMinimum = 60 * time.Second
)

// Job statuses reported by the hosted service.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobError      = "error"
)

// JobTimeout sizes the wait for a clip: 30s plus 60s per started MiB, never under 60s.
func JobTimeout(size int) time.Duration {
	mb := math.Ceil(float64(size) / float64(1<<20))
	t := timeoutBase + time.Duration(mb)*timeoutPerMB
	if t < timeoutMinimum {
		return timeoutMinimum
	}
	return t
}

// JobProgress estimates completion percent from the vendor status and how many polls have been made.
func JobProgress(status string, attempt, maxAttempts int) int {
	switch status {
	case JobQueued:
		return 10
	case JobProcessing:
		if maxAttempts <= 0 {
			return 10
		}
		p := attempt * 80 / maxAttempts
		if p > 80 {
			p = 80
		}
		return 10 + p
	case JobCompleted:
		return 100
	default:
		return 0
	}
}

// ProgressFunc receives job progress updates.
type ProgressFunc func(jobID string, percent int, status string)

// HostedJobConfig configures the hosted batch service client.
type HostedJobConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	HardCeiling  time.Duration
}

// HostedJobTranscriber submits a clip to a hosted batch service and polls until the job finishes.
type HostedJobTranscriber struct {
	cfg        HostedJobConfig
	client     *http.Client
	clock      clock
	logger     *zap.Logger
	onProgress ProgressFunc
}

// NewHostedJobTranscriber creates the client. A nil client uses a 60s per-request timeout.
func NewHostedJobTranscriber(cfg HostedJobConfig, client *http.Client, logger *zap.Logger) *HostedJobTranscriber {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HardCeiling <= 0 {
		cfg.HardCeiling = DefaultHardCeiling
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostedJobTranscriber{cfg: cfg, client: client, clock: realClock{}, logger: logger}
}

// WithProgress returns a copy reporting progress to fn.
func (t *HostedJobTranscriber) WithProgress(fn ProgressFunc) *HostedJobTranscriber {
	c := *t
	c.onProgress = fn
	return &c
}

func (t *HostedJobTranscriber) Kind() StrategyKind { return StrategyHostedBatch }

// Transcribe runs submit, then polls every PollInterval until the job completes, fails, times out or ctx ends.
func (t *HostedJobTranscriber) Transcribe(ctx context.Context, audio Audio) Result {
	jobID, err := t.submit(ctx, audio)
	if err != nil {
		return failure(StrategyHostedBatch, err.Error())
	}
	log := t.logger.With(zap.String("job_id", jobID), zap.Int("size", len(audio.Data)))

	timeout := JobTimeout(len(audio.Data))
	limit := timeout
	if t.cfg.HardCeiling < limit {
		limit = t.cfg.HardCeiling
	}
	maxAttempts := int(timeout / t.cfg.PollInterval)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log.Info("transcription job submitted", zap.Duration("timeout", limit))

	start := t.clock.Now()
	for attempt := 1; ; attempt++ {
		if t.clock.Now().Sub(start) >= limit {
			log.Warn("transcription job timed out", zap.Int("polls", attempt-1))
			return failure(StrategyHostedBatch, fmt.Sprintf("transcription timed out after %ds", int(limit.Seconds())))
		}

		st, err := t.poll(ctx, jobID)
		switch {
		case ctx.Err() != nil:
			return failure(StrategyHostedBatch, "transcription cancelled")
		case err != nil:
			var fatal *fatalError
			if errors.As(err, &fatal) {
				log.Error("transcription poll rejected", zap.Error(err))
				return failure(StrategyHostedBatch, fatal.msg)
			}
			log.Warn("transcription poll failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		default:
			switch st.Status {
			case JobCompleted:
				t.progress(jobID, 100, st.Status)
				log.Info("transcription job completed", zap.Int("polls", attempt))
				return st.result()
			case JobError:
				msg := st.Error
				if msg == "" {
					msg = "transcription failed"
				}
				log.Warn("transcription job failed", zap.String("error", msg))
				return failure(StrategyHostedBatch, msg)
			case JobQueued, JobProcessing:
				t.progress(jobID, JobProgress(st.Status, attempt, maxAttempts), st.Status)
			default:
				log.Debug("unknown job status", zap.String("status", st.Status))
			}
		}

		if err := t.clock.Sleep(ctx, t.cfg.PollInterval); err != nil {
			return failure(StrategyHostedBatch, "transcription cancelled")
		}
	}
}

func (t *HostedJobTranscriber) progress(jobID string, percent int, status string) {
	if t.onProgress != nil {
		t.onProgress(jobID, percent, status)
	}
}

func (t *HostedJobTranscriber) submit(ctx context.Context, audio Audio) (string, error) {
	endpoint := t.cfg.BaseURL + "/transcripts"
	if audio.Language != "" {
		endpoint += "?language=" + url.QueryEscape(audio.Language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio.Data))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription upload failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := errorField(body); msg != "" {
			return "", errors.New(msg)
		}
		return "", fmt.Errorf("transcription upload failed with status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", errors.New("transcription upload response missing job id")
	}
	return out.ID, nil
}

type fatalError struct{ msg string }

func (e *fatalError) Error() string { return e.msg }

func (t *HostedJobTranscriber) poll(ctx context.Context, jobID string) (*jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/transcripts/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, &fatalError{msg: fmt.Sprintf("create poll request: %v", err)}
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("poll status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg := errorField(body)
		if msg == "" {
			msg = fmt.Sprintf("transcription status check failed with status %d", resp.StatusCode)
		}
		return nil, &fatalError{msg: msg}
	}
	var st jobStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return &st, nil
}

func (t *HostedJobTranscriber) authorize(req *http.Request) {
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
}

type jobStatus struct {
	Status     string   `json:"status"`
	Text       string   `json:"text"`
	Error      string   `json:"error"`
	Confidence *float64 `json:"confidence"`
	Words      []struct {
		Text       string  `json:"text"`
		Start      int64   `json:"start"`
		End        int64   `json:"end"`
		Confidence float64 `json:"confidence"`
		Speaker    string  `json:"speaker"`
	} `json:"words"`
	Utterances []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
	} `json:"utterances"`
}

func (s *jobStatus) result() Result {
	res := Result{
		Transcript: strings.TrimSpace(s.Text),
		Strategy:   StrategyHostedBatch,
		Confidence: s.Confidence,
	}
	for _, u := range s.Utterances {
		res.Utterances = append(res.Utterances, models.Utterance{Speaker: u.Speaker, Text: u.Text, StartMs: u.Start, EndMs: u.End})
	}
	words := make([]models.WordTiming, 0, len(s.Words))
	for _, w := range s.Words {
		words = append(words, models.WordTiming{Text: w.Text, StartMs: w.Start, EndMs: w.End, Confidence: w.Confidence, Speaker: w.Speaker})
	}
	if len(words) > 0 {
		res.Words = models.NormalizeWords(words)
	}
	return res
}

// errorField extracts a vendor error message from `{"error": "..."}` or `{"error": {"message": "..."}}`.
func errorField(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}
