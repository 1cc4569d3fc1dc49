package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/internal/recordings"
	"github.com/voxnote/backend/pkg/queue"
	"github.com/voxnote/backend/pkg/retry"
)

// Queue is the job source. *queue.Queue implements it.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	DeadLetter(ctx context.Context, job *queue.Job) error
}

// ErrPermanent marks job failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

func permanent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

// TranscriptionProcessor processes transcription and import jobs: fetch audio, run file transcription, write
// the outcome back to the recording.
type TranscriptionProcessor struct {
	svc            *recordings.Service
	committer      *capture.Committer
	importer       *recordings.Importer
	newTranscriber recordings.TranscriberFunc
	queue          Queue
	backoff        time.Duration
	sleep          retry.SleepFunc
	logger         *zap.Logger
}

// NewTranscriptionProcessor creates a processor.
func NewTranscriptionProcessor(svc *recordings.Service, committer *capture.Committer, importer *recordings.Importer, newTranscriber recordings.TranscriberFunc, q Queue, logger *zap.Logger) *TranscriptionProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptionProcessor{
		svc:            svc,
		committer:      committer,
		importer:       importer,
		newTranscriber: newTranscriber,
		queue:          q,
		backoff:        queue.RetryBackoff,
		sleep:          retry.Sleep,
		logger:         logger,
	}
}

// Process executes one job.
func (p *TranscriptionProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeTranscribe:
		var payload queue.TranscribePayload
		if err := job.Decode(&payload); err != nil {
			return permanent("%v", err)
		}
		return p.transcribe(ctx, payload)
	case queue.JobTypeImport:
		var payload queue.ImportPayload
		if err := job.Decode(&payload); err != nil {
			return permanent("%v", err)
		}
		return p.importClip(ctx, payload)
	default:
		return permanent("unknown job type: %s", job.Type)
	}
}

func (p *TranscriptionProcessor) transcriber(language string) capture.Transcriber {
	if p.newTranscriber == nil {
		return nil
	}
	return p.newTranscriber(language)
}

func (p *TranscriptionProcessor) transcribe(ctx context.Context, payload queue.TranscribePayload) error {
	tr := p.transcriber(payload.Language)
	if tr == nil {
		return permanent("file transcription is not configured")
	}
	rec, err := p.svc.Get(ctx, payload.RecordingID)
	if errors.Is(err, models.ErrRecordingNotFound) {
		p.logger.Info("recording deleted before transcription", zap.String("recording_id", payload.RecordingID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get recording: %w", err)
	}
	data, err := p.svc.Audio(ctx, rec)
	if err != nil {
		return fmt.Errorf("load audio: %w", err)
	}
	err = p.committer.Run(ctx, rec, recordings.AudioFor(rec, data, payload.Language), tr, capture.CommitEvents{})
	if errors.Is(err, models.ErrRecordingNotFound) {
		p.logger.Info("recording deleted during transcription", zap.String("recording_id", rec.ID))
		return nil
	}
	return err
}

func (p *TranscriptionProcessor) importClip(ctx context.Context, payload queue.ImportPayload) error {
	if p.importer == nil {
		return permanent("importer is not configured")
	}
	rec, err := p.importer.Import(ctx, payload)
	if err != nil {
		return fmt.Errorf("import %s: %w", payload.FileURL, err)
	}
	tr := p.transcriber(payload.Language)
	if tr == nil {
		return nil
	}

	// From here on the clip is saved; a retry would import it twice.
	status := models.TranscriptStatusPending
	if err := p.svc.Update(ctx, rec.ID, models.RecordingPatch{TranscriptStatus: &status}); err != nil {
		p.logger.Error("mark imported recording pending", zap.String("recording_id", rec.ID), zap.Error(err))
		return nil
	}
	if err := p.committer.Run(ctx, rec, recordings.AudioFor(rec, rec.Audio, payload.Language), tr, capture.CommitEvents{}); err != nil {
		p.logger.Error("transcribe imported recording", zap.String("recording_id", rec.ID), zap.Error(err))
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *TranscriptionProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("transcription worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			_ = p.sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		log := p.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		log.Debug("processing job")
		err = p.Process(ctx, job)
		switch {
		case err == nil:
			log.Info("job completed")
		case errors.Is(err, ErrPermanent):
			log.Error("job failed permanently", zap.Error(err))
			if dlErr := p.queue.DeadLetter(ctx, job); dlErr != nil {
				log.Error("dead-letter failed", zap.Error(dlErr))
			}
		default:
			log.Error("job failed", zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				log.Error("retry enqueue failed", zap.Error(reErr))
			}
			_ = p.sleep(ctx, p.backoff)
		}
	}
}
