package capture

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/internal/transcription"
	"github.com/voxnote/backend/pkg/retry"
)

// Store is the part of the persistence collaborator the commit protocol needs.
type Store interface {
	Save(ctx context.Context, rec *models.Recording) (*models.Recording, error)
	Update(ctx context.Context, id string, patch models.RecordingPatch) error
}

// Transcriber runs file transcription. *transcription.Orchestrator implements it.
type Transcriber interface {
	TranscribeFile(ctx context.Context, audio transcription.Audio) transcription.Result
}

// CommitEvents receives the outcome of both commit phases. Every field is optional.
type CommitEvents struct {
	OnSaved               func(rec *models.Recording)
	OnTranscribed         func(rec *models.Recording)
	OnTranscriptionFailed func(rec *models.Recording, message string)
}

func (e CommitEvents) saved(rec *models.Recording) {
	if e.OnSaved != nil {
		e.OnSaved(rec)
	}
}

func (e CommitEvents) transcribed(rec *models.Recording) {
	if e.OnTranscribed != nil {
		e.OnTranscribed(rec)
	}
}

func (e CommitEvents) failed(rec *models.Recording, msg string) {
	if e.OnTranscriptionFailed != nil {
		e.OnTranscriptionFailed(rec, msg)
	}
}

// Committer persists finished recordings in two phases: a retried save, then background transcription whose
// outcome is written back without ever undoing the save.
type Committer struct {
	base   context.Context
	store  Store
	retry  retry.Policy
	events CommitEvents
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]*job
	wg       sync.WaitGroup
}

type job struct {
	cancel context.CancelFunc
}

// NewCommitter creates a committer. Background transcriptions end when base is done. events are
// notified for every recording in addition to the per-call events.
func NewCommitter(base context.Context, store Store, policy retry.Policy, events CommitEvents, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{
		base:     base,
		store:    store,
		retry:    policy,
		events:   events,
		logger:   logger,
		inflight: make(map[string]*job),
	}
}

// Commit saves rec and, when tr is not nil, starts its transcription in the background. On save
// exhaustion the recording is dropped and a *retry.ExhaustedError is returned.
func (c *Committer) Commit(ctx context.Context, rec *models.Recording, tr Transcriber, language string, notify CommitEvents) (*models.Recording, error) {
	rec.EnsureName()
	audio := transcription.Audio{
		Data:        rec.Audio,
		ContentType: rec.ContentType,
		Filename:    rec.Name + models.AudioExtension(rec.ContentType),
		Language:    language,
	}
	if tr == nil {
		rec.TranscriptStatus = models.TranscriptStatusNone
	} else {
		rec.TranscriptStatus = models.TranscriptStatusPending
	}

	var saved *models.Recording
	err := c.retry.Do(ctx, "save recording", func(ctx context.Context) error {
		s, err := c.store.Save(ctx, rec)
		if err != nil {
			return err
		}
		saved = s
		return nil
	})
	if err != nil {
		c.logger.Error("save recording", zap.String("recording_id", rec.ID), zap.Error(err))
		rec.Audio = nil
		return nil, err
	}
	c.logger.Info("recording saved",
		zap.String("recording_id", saved.ID),
		zap.Int("duration_seconds", saved.DurationSeconds),
		zap.Int64("size", saved.FileSize),
	)
	c.events.saved(saved)
	notify.saved(saved)

	if tr != nil {
		c.Transcribe(saved, audio, tr, notify)
	}
	return saved, nil
}

// Transcribe runs phase two for an already saved recording on a background goroutine. A transcription
// already running for the same recording is cancelled first.
func (c *Committer) Transcribe(rec *models.Recording, audio transcription.Audio, tr Transcriber, notify CommitEvents) {
	ctx, cancel := context.WithCancel(c.base)
	j := &job{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.inflight[rec.ID]; ok {
		prev.cancel()
	}
	c.inflight[rec.ID] = j
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.finish(rec.ID, j)
		_ = c.transcribe(ctx, rec, audio, tr, notify)
	}()
}

// Run performs phase two synchronously. The outcome, success or failure, is written to the store; the
// returned error is non-nil only when that write could not be made or ctx ended first.
func (c *Committer) Run(ctx context.Context, rec *models.Recording, audio transcription.Audio, tr Transcriber, notify CommitEvents) error {
	return c.transcribe(ctx, rec, audio, tr, notify)
}

func (c *Committer) transcribe(ctx context.Context, rec *models.Recording, audio transcription.Audio, tr Transcriber, notify CommitEvents) error {
	log := c.logger.With(zap.String("recording_id", rec.ID))
	res := tr.TranscribeFile(ctx, audio)
	if err := ctx.Err(); err != nil {
		log.Info("transcription abandoned")
		return err
	}

	if res.Failed() {
		log.Warn("transcription failed", zap.String("strategy", string(res.Strategy)), zap.String("error", res.Error))
		return c.markFailed(ctx, rec, res.Error, notify)
	}

	status := models.TranscriptStatusCompleted
	strategy := string(res.Strategy)
	transcript := res.Transcript
	empty := ""
	patch := models.RecordingPatch{
		Transcript:         &transcript,
		TranscriptStatus:   &status,
		TranscriptError:    &empty,
		TranscriptStrategy: &strategy,
	}
	if res.Utterances != nil {
		patch.Utterances = &res.Utterances
	}
	if res.Words != nil {
		words := models.NormalizeWords(res.Words)
		patch.Words = &words
	}
	if err := c.update(ctx, rec.ID, patch); err != nil {
		log.Error("store transcript", zap.Error(err))
		if ferr := c.markFailed(ctx, rec, err.Error(), notify); ferr != nil {
			return ferr
		}
		return err
	}
	patch.Apply(rec)
	log.Info("recording transcribed", zap.String("strategy", strategy), zap.Int("chars", len(transcript)))
	c.events.transcribed(rec)
	notify.transcribed(rec)
	return nil
}

func (c *Committer) markFailed(ctx context.Context, rec *models.Recording, msg string, notify CommitEvents) error {
	status := models.TranscriptStatusFailed
	patch := models.RecordingPatch{TranscriptStatus: &status, TranscriptError: &msg}
	err := c.update(ctx, rec.ID, patch)
	if err != nil {
		c.logger.Error("mark transcription failed", zap.String("recording_id", rec.ID), zap.Error(err))
	} else {
		patch.Apply(rec)
	}
	c.events.failed(rec, msg)
	notify.failed(rec, msg)
	return err
}

func (c *Committer) update(ctx context.Context, id string, patch models.RecordingPatch) error {
	return c.retry.Do(ctx, "update recording", func(ctx context.Context) error {
		err := c.store.Update(ctx, id, patch)
		if errors.Is(err, models.ErrRecordingNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c *Committer) finish(id string, j *job) {
	j.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	// A newer transcription may have replaced this one.
	if c.inflight[id] == j {
		delete(c.inflight, id)
	}
}

// Cancel abandons the background transcription of a recording, if any.
func (c *Committer) Cancel(id string) bool {
	c.mu.Lock()
	j, ok := c.inflight[id]
	delete(c.inflight, id)
	c.mu.Unlock()
	if ok {
		j.cancel()
		c.logger.Info("transcription cancelled", zap.String("recording_id", id))
	}
	return ok
}

// Pending reports whether a transcription is running for id.
func (c *Committer) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

// Wait blocks until every background transcription has finished.
func (c *Committer) Wait() {
	c.wg.Wait()
}
