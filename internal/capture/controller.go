// Package capture owns microphone capture sessions: acquisition, pause and resume, level metering,
// duration limits and the two-phase commit of the finished recording.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/models"
)

// ErrNotRecording is returned when an operation needs an active session.
var ErrNotRecording = errors.New("no active recording")

const (
	DefaultMaxDuration = 2 * time.Hour
	DefaultWarningLead = 3 * time.Minute
)

// Quality is a capture sample rate preset.
type Quality int

const (
	QualityLow    Quality = 16000
	QualityMedium Quality = 24000
	QualityHigh   Quality = 48000
)

// ParseQuality accepts one of the supported sample rates. Zero selects QualityLow.
func ParseQuality(sampleRate int) (Quality, error) {
	switch Quality(sampleRate) {
	case 0:
		return QualityLow, nil
	case QualityLow, QualityMedium, QualityHigh:
		return Quality(sampleRate), nil
	}
	return 0, fmt.Errorf("unsupported sample rate %d", sampleRate)
}

// State is the controller's session state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
)

// Microphone is the audio source. Open returns an *AcquisitionError when the device cannot be used.
type Microphone interface {
	Open(ctx context.Context, q Quality) error
	Close()
}

// Orchestrator is the transcription side of a session. *transcription.Orchestrator implements it.
type Orchestrator interface {
	Transcriber
	StartRealTime(ctx context.Context) error
	StopRealTime()
	ResetTranscript()
	SendAudio(chunk []byte) error
	Close()
}

// Config bounds a capture session.
type Config struct {
	MaxDuration   time.Duration
	WarningLead   time.Duration
	LevelInterval time.Duration
	TickInterval  time.Duration
	Language      string
}

// Events receives session notifications. Every field is optional.
type Events struct {
	OnElapsed         func(seconds int)
	OnLevel           func(level float64)
	OnDurationWarning func(remaining time.Duration)
	OnAutoStop        func(rec *models.Recording, err error)
	Commit            CommitEvents
}

type session struct {
	id        string
	quality   Quality
	orch      Orchestrator
	pcm       bytes.Buffer
	meter     *LevelMeter
	elapsed   int
	paused    bool
	warned    bool
	startedAt time.Time
	stopTimer context.CancelFunc
}

// Controller runs at most one capture session at a time.
type Controller struct {
	cfg       Config
	mic       Microphone
	newOrch   func(q Quality) Orchestrator
	committer *Committer
	events    Events
	logger    *zap.Logger

	mu   sync.Mutex
	sess *session
}

// NewController creates a controller. newOrch is called once per session.
func NewController(cfg Config, mic Microphone, newOrch func(q Quality) Orchestrator, committer *Committer, events Events, logger *zap.Logger) *Controller {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.WarningLead <= 0 {
		cfg.WarningLead = DefaultWarningLead
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		mic:       mic,
		newOrch:   newOrch,
		committer: committer,
		events:    events,
		logger:    logger,
	}
}

// State reports whether a session is recording, paused or absent.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.sess == nil:
		return StateIdle
	case c.sess.paused:
		return StatePaused
	default:
		return StateRecording
	}
}

// Elapsed returns the active session's duration in seconds.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.sess.elapsed
}

// Start opens the microphone and begins a session. An active session is discarded first.
func (c *Controller) Start(ctx context.Context, q Quality) error {
	c.Discard()

	if err := c.mic.Open(ctx, q); err != nil {
		var acq *AcquisitionError
		if !errors.As(err, &acq) {
			acq = ClassifyAcquisition("", err.Error())
		}
		c.logger.Warn("microphone acquisition failed", zap.String("cause", string(acq.Cause)), zap.String("name", acq.Name))
		return acq
	}

	orch := c.newOrch(q)
	orch.ResetTranscript()

	timerCtx, stopTimer := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.NewString(),
		quality:   q,
		orch:      orch,
		meter:     NewLevelMeter(c.cfg.LevelInterval),
		startedAt: time.Now().UTC(),
		stopTimer: stopTimer,
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	go c.runTimer(timerCtx)

	if err := orch.StartRealTime(ctx); err != nil {
		c.logger.Warn("start real-time transcription", zap.Error(err))
	}
	c.logger.Info("recording started", zap.String("session_id", s.id), zap.Int("sample_rate", int(q)))
	return nil
}

func (c *Controller) runTimer(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick advances the active session by one second and enforces the duration limits.
func (c *Controller) tick() {
	maxAt := int(c.cfg.MaxDuration / time.Second)
	warnAt := int((c.cfg.MaxDuration - c.cfg.WarningLead) / time.Second)

	c.mu.Lock()
	s := c.sess
	if s == nil || s.paused {
		c.mu.Unlock()
		return
	}
	s.elapsed++
	elapsed := s.elapsed
	warn := !s.warned && elapsed >= warnAt && elapsed < maxAt
	if warn {
		s.warned = true
	}
	autoStop := elapsed >= maxAt
	if autoStop {
		c.sess = nil
	}
	c.mu.Unlock()

	if c.events.OnElapsed != nil {
		c.events.OnElapsed(elapsed)
	}
	if warn && c.events.OnDurationWarning != nil {
		c.events.OnDurationWarning(time.Duration(maxAt-elapsed) * time.Second)
	}
	if autoStop {
		c.logger.Info("recording reached maximum duration", zap.String("session_id", s.id), zap.Int("seconds", elapsed))
		rec, err := c.finalize(context.Background(), s)
		if c.events.OnAutoStop != nil {
			c.events.OnAutoStop(rec, err)
		}
	}
}

// Pause freezes the timer and level metering. Audio received while paused is dropped.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ErrNotRecording
	}
	c.sess.paused = true
	c.sess.meter.Freeze()
	return nil
}

// Resume undoes Pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ErrNotRecording
	}
	c.sess.paused = false
	c.sess.meter.Thaw()
	return nil
}

// Write appends a PCM16 chunk to the session and forwards it to live transcription.
func (c *Controller) Write(chunk []byte) error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return ErrNotRecording
	}
	if s.paused {
		c.mu.Unlock()
		return nil
	}
	s.pcm.Write(chunk)
	level, due := s.meter.Observe(chunk)
	orch := s.orch
	c.mu.Unlock()

	if due && c.events.OnLevel != nil {
		c.events.OnLevel(level)
	}
	if err := orch.SendAudio(chunk); err != nil {
		c.logger.Debug("forward audio to live transcription", zap.Error(err))
	}
	return nil
}

// Stop ends the session and commits the recording. Transcription continues in the background.
func (c *Controller) Stop(ctx context.Context) (*models.Recording, error) {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return nil, ErrNotRecording
	}
	return c.finalize(ctx, s)
}

// Discard ends the active session, if any, without saving it.
func (c *Controller) Discard() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.teardown(s)
	c.logger.Info("recording discarded", zap.String("session_id", s.id), zap.Int("seconds", s.elapsed))
}

func (c *Controller) teardown(s *session) {
	s.stopTimer()
	c.mic.Close()
	s.orch.Close()
}

func (c *Controller) finalize(ctx context.Context, s *session) (*models.Recording, error) {
	c.teardown(s)

	data, err := EncodeWAV(s.pcm.Bytes(), int(s.quality))
	if err != nil {
		return nil, fmt.Errorf("finalize audio: %w", err)
	}
	rec := &models.Recording{
		ID:              s.id,
		Audio:           data,
		ContentType:     "audio/wav",
		FileSize:        int64(len(data)),
		DurationSeconds: s.elapsed,
		CreatedAt:       s.startedAt,
	}
	c.logger.Info("recording stopped", zap.String("session_id", s.id), zap.Int("seconds", s.elapsed), zap.Int("bytes", len(data)))
	return c.committer.Commit(ctx, rec, s.orch, c.cfg.Language, c.events.Commit)
}
