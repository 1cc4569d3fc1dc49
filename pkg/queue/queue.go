package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueTranscriptions is the Redis list key for transcription jobs.
	QueueTranscriptions = "worker:transcriptions"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// DequeueTimeout bounds each blocking pop so the worker notices shutdown.
	DequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	// JobTypeTranscribe re-runs file transcription for a stored recording.
	JobTypeTranscribe JobType = "transcribe"
	// JobTypeImport downloads a clip from a URL, stores it and transcribes it.
	JobTypeImport JobType = "import"
)

// TranscribePayload is the payload for transcription jobs.
type TranscribePayload struct {
	RecordingID string `json:"recording_id"`
	Language    string `json:"language,omitempty"`
}

// ImportPayload is the payload for import jobs.
type ImportPayload struct {
	FileURL         string `json:"file_url"`
	Name            string `json:"name,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Language        string `json:"language,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJob wraps payload in an envelope with a fresh id.
func NewJob(t JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	return nil
}

// Exhausted reports whether another failure should send the job to the DLQ.
func (j *Job) Exhausted() bool { return j.Attempt+1 >= MaxRetries }

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueTranscription enqueues a transcription job and returns its id.
func (q *Queue) EnqueueTranscription(ctx context.Context, payload TranscribePayload) (string, error) {
	job, err := NewJob(JobTypeTranscribe, payload)
	if err != nil {
		return "", err
	}
	if err := q.push(ctx, QueueTranscriptions, job); err != nil {
		return "", err
	}
	q.logger.Debug("enqueued transcription job", zap.String("job_id", job.ID), zap.String("recording_id", payload.RecordingID))
	return job.ID, nil
}

// EnqueueImport enqueues an import job and returns its id.
func (q *Queue) EnqueueImport(ctx context.Context, payload ImportPayload) (string, error) {
	job, err := NewJob(JobTypeImport, payload)
	if err != nil {
		return "", err
	}
	if err := q.push(ctx, QueueTranscriptions, job); err != nil {
		return "", err
	}
	q.logger.Debug("enqueued import job", zap.String("job_id", job.ID), zap.String("file_url", payload.FileURL))
	return job.ID, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Dequeue blocks for up to DequeueTimeout. It returns a nil job when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, DequeueTimeout, QueueTranscriptions).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		return q.DeadLetter(ctx, job)
	}
	if err := q.push(ctx, QueueTranscriptions, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DeadLetter moves a job to the DLQ without further attempts.
func (q *Queue) DeadLetter(ctx context.Context, job *Job) error {
	if err := q.push(ctx, QueueDLQ, job); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
