package transcription

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/netmon"
)

// CapabilityMessage is reported when no live recognition engine is available.
const CapabilityMessage = "Live speech recognition is not available. Recording continues without live captions."

const (
	noticeOffline   = "Connection lost. Live captions will resume when the network is back."
	noticeRecovered = "Connection restored. Live captions resumed."
)

// Config selects the strategy. One-shot wins when both hosted flags are set; with neither, live
// recognition is used.
type Config struct {
	UseHostedBatch   bool
	UseHostedOneshot bool
	Language         string
}

// Observer receives orchestrator events. Every field is optional.
type Observer struct {
	OnStatus   func(status Status, message string)
	OnPartial  func(finalized, full string)
	OnProgress ProgressFunc
	OnNotice   func(message string)
}

// Dependencies are the collaborators shared by every orchestrator of a process.
type Dependencies struct {
	Engine     Engine
	SampleRate int
	Hosted     *HostedJobTranscriber
	OneShot    *OneShotTranscriber
	Monitor    *netmon.Monitor
	Logger     *zap.Logger
}

// Orchestrator drives one recording session's transcription through the strategy picked at construction.
type Orchestrator struct {
	cfg        Config
	strategy   Strategy
	recognizer *LiveRecognizer
	cell       *TranscriptCell
	monitor    *netmon.Monitor
	obs        Observer
	logger     *zap.Logger

	unsubscribe func()

	mu             sync.Mutex
	status         Status
	lastErr        string
	finalized      string
	networkFailure bool
}

// NewOrchestrator builds an orchestrator and subscribes it to the network monitor when one is given.
func NewOrchestrator(cfg Config, deps Dependencies, obs Observer) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		recognizer: NewLiveRecognizer(deps.Engine, deps.SampleRate, logger),
		cell:       &TranscriptCell{},
		monitor:    deps.Monitor,
		obs:        obs,
		logger:     logger,
		status:     StatusIdle,
	}
	o.strategy = o.selectStrategy(deps)
	o.logger = logger.With(zap.String("strategy", string(o.strategy.Kind())))

	if o.monitor != nil && o.strategy.Kind() == StrategyLocalLive {
		o.unsubscribe = o.monitor.Subscribe(o.handleNetwork)
	}
	return o
}

func (o *Orchestrator) selectStrategy(deps Dependencies) Strategy {
	switch {
	case o.cfg.UseHostedOneshot:
		if deps.OneShot == nil {
			return unavailable(StrategyHostedOneshot)
		}
		return deps.OneShot
	case o.cfg.UseHostedBatch:
		if deps.Hosted == nil {
			return unavailable(StrategyHostedBatch)
		}
		return deps.Hosted.WithProgress(func(jobID string, percent int, status string) {
			if o.obs.OnProgress != nil {
				o.obs.OnProgress(jobID, percent, status)
			}
		})
	default:
		return &liveStrategy{cell: o.cell}
	}
}

// Kind returns the selected strategy.
func (o *Orchestrator) Kind() StrategyKind { return o.strategy.Kind() }

// Status returns the live-recognition status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LastError returns the message of the last failure, or "".
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// EngineInfo reports live recognition capability.
func (o *Orchestrator) EngineInfo() EngineInfo {
	return EngineInfo{Supported: o.recognizer.Supported(), Engine: o.recognizer.EngineName()}
}

// Transcript returns the latest transcript held by the session.
func (o *Orchestrator) Transcript() string { return o.cell.Text() }

// ResetTranscript clears the session transcript.
func (o *Orchestrator) ResetTranscript() {
	o.mu.Lock()
	o.finalized = ""
	o.mu.Unlock()
	o.cell.Reset()
}

// StartRealTime starts live recognition. It does nothing for hosted strategies. An unsupported engine sets
// status error and returns nil so capture can carry on without captions.
func (o *Orchestrator) StartRealTime(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.strategy.Kind() != StrategyLocalLive {
		return nil
	}
	if o.Status() != StatusIdle {
		o.StopRealTime()
	}

	if !o.recognizer.Supported() {
		o.logger.Info("live recognition unsupported")
		o.transition(EventFailed, CapabilityMessage)
		return nil
	}

	o.mu.Lock()
	o.networkFailure = false
	o.mu.Unlock()

	o.cell.Reopen()
	o.transition(EventStarted, "")
	if !o.recognizer.Start(o.cfg.Language, o.handleResult, o.handleError) {
		o.transition(EventFailed, "Live speech recognition could not be started.")
	}
	return nil
}

// StopRealTime stops live recognition and returns to idle. Words still interim at this point are kept in
// the transcript. Safe to call repeatedly.
func (o *Orchestrator) StopRealTime() {
	o.recognizer.Stop()
	if o.strategy.Kind() == StrategyLocalLive {
		o.cell.Seal()
	}
	o.transition(EventStopped, "")
}

// SendAudio forwards a PCM chunk to the live recognizer. Hosted strategies ignore audio.
func (o *Orchestrator) SendAudio(chunk []byte) error {
	if o.strategy.Kind() != StrategyLocalLive || !o.recognizer.Active() {
		return nil
	}
	return o.recognizer.SendAudio(chunk)
}

// TranscribeFile runs the selected strategy on a finished clip. A non-empty transcript replaces the
// session transcript.
func (o *Orchestrator) TranscribeFile(ctx context.Context, audio Audio) Result {
	if audio.Language == "" {
		audio.Language = o.cfg.Language
	}
	res := o.strategy.Transcribe(ctx, audio)
	if res.Failed() {
		o.logger.Warn("file transcription failed", zap.Int("size", len(audio.Data)), zap.String("error", res.Error))
		return res
	}
	if res.Transcript != "" {
		o.cell.Set(res.Transcript)
	}
	return res
}

// Close stops recognition and detaches from the network monitor.
func (o *Orchestrator) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.StopRealTime()
}

func (o *Orchestrator) transition(event StatusEvent, message string) {
	o.mu.Lock()
	next, err := NextStatus(o.status, event, message)
	if err != nil {
		o.mu.Unlock()
		o.logger.Debug("ignore status event", zap.Error(err))
		return
	}
	o.status = next
	switch event {
	case EventFailed:
		o.lastErr = message
	default:
		o.lastErr = ""
	}
	o.mu.Unlock()

	if o.obs.OnStatus != nil {
		o.obs.OnStatus(next, message)
	}
}

func (o *Orchestrator) handleResult(text string, isFinal bool) {
	o.mu.Lock()
	if isFinal {
		o.finalized = text
		o.mu.Unlock()
		return
	}
	finalized := o.finalized
	o.mu.Unlock()

	o.cell.Update(finalized, text)
	if o.obs.OnPartial != nil {
		o.obs.OnPartial(finalized, text)
	}
}

func (o *Orchestrator) handleError(message string) {
	offline := o.monitor != nil && !o.monitor.Online()
	network := message == NetworkErrorMessage || offline

	o.mu.Lock()
	if network {
		o.networkFailure = true
	}
	o.mu.Unlock()

	if network && offline {
		o.logger.Info("suppress recognition error while offline", zap.String("error", message))
		o.transition(EventFailed, noticeOffline)
		return
	}
	o.transition(EventFailed, message)
}

func (o *Orchestrator) handleNetwork(online bool) {
	o.mu.Lock()
	status := o.status
	networkFailure := o.networkFailure
	o.mu.Unlock()

	if !online {
		if status == StatusListening {
			o.notice(noticeOffline)
		}
		return
	}
	if !networkFailure || (status != StatusError && status != StatusMaxRetriesExceeded) {
		return
	}
	go func() {
		if err := o.StartRealTime(context.Background()); err != nil {
			o.logger.Warn("restart live recognition after reconnect", zap.Error(err))
			return
		}
		if o.Status() == StatusListening {
			o.notice(noticeRecovered)
		}
	}()
}

func (o *Orchestrator) notice(msg string) {
	if o.obs.OnNotice != nil {
		o.obs.OnNotice(msg)
	}
}

// liveStrategy serves file transcription from what the live recognizer accumulated.
type liveStrategy struct {
	cell *TranscriptCell
}

func (s *liveStrategy) Kind() StrategyKind { return StrategyLocalLive }

func (s *liveStrategy) Transcribe(ctx context.Context, _ Audio) Result {
	if ctx.Err() != nil {
		return failure(StrategyLocalLive, "transcription cancelled")
	}
	return Result{Transcript: s.cell.Text(), Strategy: StrategyLocalLive}
}

type unavailableStrategy struct{ kind StrategyKind }

func unavailable(kind StrategyKind) Strategy { return unavailableStrategy{kind: kind} }

func (s unavailableStrategy) Kind() StrategyKind { return s.kind }

func (s unavailableStrategy) Transcribe(context.Context, Audio) Result {
	return failure(s.kind, fmt.Sprintf("%s transcription is not configured", s.kind))
}

// Factory creates one orchestrator per capture session.
type Factory struct {
	Config       Config
	Dependencies Dependencies
}

// New returns an orchestrator for a session recording at sampleRate. An empty language keeps the default.
func (f *Factory) New(sampleRate int, language string, obs Observer) *Orchestrator {
	cfg := f.Config
	if language != "" {
		cfg.Language = language
	}
	deps := f.Dependencies
	if sampleRate > 0 {
		deps.SampleRate = sampleRate
	}
	return NewOrchestrator(cfg, deps, obs)
}

// FileTranscriber returns an orchestrator for finished files, or nil when only live recognition is
// configured and there is nothing to send a file to.
func (f *Factory) FileTranscriber(language string, obs Observer) *Orchestrator {
	if !f.Config.UseHostedBatch && !f.Config.UseHostedOneshot {
		return nil
	}
	return f.New(0, language, obs)
}

// Info describes the configured transcription setup, as reported to clients.
type Info struct {
	Strategy StrategyKind `json:"strategy"`
	Live     EngineInfo   `json:"live"`
	Online   bool         `json:"online"`
}

// Info reports the strategy a new orchestrator would use.
func (f *Factory) Info() Info {
	o := f.New(0, "", Observer{})
	defer o.Close()
	info := Info{Strategy: o.Kind(), Live: o.EngineInfo(), Online: true}
	if m := f.Dependencies.Monitor; m != nil {
		info.Online = m.Online()
	}
	return info
}
