package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotListening is returned by SendAudio when no recognition session is open.
var ErrNotListening = errors.New("live recognizer is not listening")

// NetworkErrorMessage is reported for network-class engine errors.
const NetworkErrorMessage = "Network error during speech recognition."

// maxConsecutiveRestarts bounds restarts of sessions that end without producing any result.
const maxConsecutiveRestarts = 5

// ResultFunc receives recognized text. It is called twice per result event: once with the finalized text
// (isFinal true) and once with finalized plus interim text (isFinal false).
type ResultFunc func(text string, isFinal bool)

// ErrorFunc receives a human-readable error message.
type ErrorFunc func(message string)

// LiveRecognizer keeps a continuous streaming recognition session open and restarts it when the engine
// ends the session on its own.
type LiveRecognizer struct {
	engine     Engine
	sampleRate int
	logger     *zap.Logger

	mu              sync.Mutex
	gen             int
	stream          Stream
	cancel          context.CancelFunc
	keepRunning     bool
	restartDisabled bool
	restarts        int
	cfg             StreamConfig
	finals          []string
	onResult        ResultFunc
	onError         ErrorFunc
}

// NewLiveRecognizer wraps engine. A nil engine is treated as unsupported.
func NewLiveRecognizer(engine Engine, sampleRate int, logger *zap.Logger) *LiveRecognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveRecognizer{engine: engine, sampleRate: sampleRate, logger: logger}
}

// Supported reports whether the engine can run.
func (r *LiveRecognizer) Supported() bool {
	return r.engine != nil && r.engine.Supported()
}

// EngineName returns the engine name, or "" without an engine.
func (r *LiveRecognizer) EngineName() string {
	if r.engine == nil {
		return ""
	}
	return r.engine.Name()
}

// Start opens a new session, first disabling restart on and stopping any previous one.
// It returns false when the engine is unsupported or the session cannot be opened.
func (r *LiveRecognizer) Start(lang string, onResult ResultFunc, onError ErrorFunc) bool {
	if !r.Supported() {
		return false
	}
	r.Stop()

	if onResult == nil {
		onResult = func(string, bool) {}
	}
	if onError == nil {
		onError = func(string) {}
	}
	cfg := StreamConfig{
		Language:       lang,
		SampleRate:     r.sampleRate,
		Encoding:       "linear16",
		InterimResults: true,
		Continuous:     true,
	}
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.cfg = cfg
	r.cancel = cancel
	r.finals = nil
	r.restarts = 0
	r.restartDisabled = false
	r.onResult = onResult
	r.onError = onError
	r.mu.Unlock()

	stream, err := r.engine.Open(ctx, cfg)
	if err != nil {
		cancel()
		r.logger.Warn("open live recognition", zap.String("engine", r.engine.Name()), zap.Error(err))
		return false
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		_ = stream.Close()
		return false
	}
	r.stream = stream
	r.keepRunning = true
	r.mu.Unlock()

	go r.run(gen, stream)
	return true
}

// Stop ends the session and prevents any pending restart. Safe to call repeatedly.
func (r *LiveRecognizer) Stop() {
	r.mu.Lock()
	r.keepRunning = false
	r.gen++
	stream := r.stream
	cancel := r.cancel
	r.stream = nil
	r.cancel = nil
	r.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// Active reports whether a session is currently open.
func (r *LiveRecognizer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Transcript returns the finalized text of the current session.
func (r *LiveRecognizer) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.finals, " ")
}

// SendAudio forwards a PCM chunk to the open session.
func (r *LiveRecognizer) SendAudio(chunk []byte) error {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil {
		return ErrNotListening
	}
	return stream.SendAudio(chunk)
}

func (r *LiveRecognizer) run(gen int, stream Stream) {
	for stream != nil {
		r.drain(gen, stream)
		stream = r.restart(gen, stream)
	}
}

func (r *LiveRecognizer) drain(gen int, stream Stream) {
	for ev := range stream.Events() {
		switch ev.Type {
		case EngineResult:
			r.handleResult(gen, ev)
		case EngineError:
			r.handleError(gen, ev)
		case EngineEnd:
			return
		}
	}
}

func (r *LiveRecognizer) handleResult(gen int, ev EngineEvent) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.restarts = 0
	var interim []string
	start := ev.ResultIndex
	if start < 0 || start > len(ev.Results) {
		start = 0
	}
	for _, alt := range ev.Results[start:] {
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		if alt.IsFinal {
			r.finals = append(r.finals, text)
		} else {
			interim = append(interim, text)
		}
	}
	finalized := strings.Join(r.finals, " ")
	onResult := r.onResult
	r.mu.Unlock()

	full := strings.TrimSpace(strings.Join(append([]string{finalized}, interim...), " "))
	onResult(finalized, true)
	onResult(full, false)
}

func (r *LiveRecognizer) handleError(gen int, ev EngineEvent) {
	if ev.Code == CodeNoSpeech {
		r.logger.Debug("no speech detected")
		return
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	if ev.Code == CodeNotAllowed || ev.Code == CodeServiceNotAllowed {
		r.keepRunning = false
	}
	lang := r.cfg.Language
	onError := r.onError
	r.mu.Unlock()

	r.logger.Warn("live recognition error", zap.String("code", ev.Code), zap.String("detail", ev.Message))
	onError(ErrorMessage(ev.Code, lang))
}

// restart reopens the engine after a session ended. It returns nil when no restart should happen.
func (r *LiveRecognizer) restart(gen int, ended Stream) Stream {
	_ = ended.Close()

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return nil
	}
	if !r.keepRunning || r.restartDisabled {
		r.stream = nil
		r.mu.Unlock()
		return nil
	}
	r.restarts++
	tooMany := r.restarts > maxConsecutiveRestarts
	cfg := r.cfg
	cancel := r.cancel
	r.mu.Unlock()

	var next Stream
	var err error
	if tooMany {
		err = fmt.Errorf("%d consecutive sessions ended without results", maxConsecutiveRestarts)
	} else {
		ctx, c := context.WithCancel(context.Background())
		next, err = r.engine.Open(ctx, cfg)
		if err != nil {
			c()
		} else {
			cancel = c
		}
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		if next != nil {
			_ = next.Close()
			cancel()
		}
		return nil
	}
	if err != nil {
		r.restartDisabled = true
		r.keepRunning = false
		r.stream = nil
		onError := r.onError
		r.mu.Unlock()

		r.logger.Error("live recognition restart failed", zap.Error(err))
		onError(fmt.Sprintf("%s (%v)", MaxRestartMessage, err))
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.stream = next
	r.mu.Unlock()

	r.logger.Debug("live recognition restarted", zap.Int("restart", r.restartsSnapshot()))
	return next
}

func (r *LiveRecognizer) restartsSnapshot() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

// ErrorMessage turns an engine error code into text for users.
func ErrorMessage(code, lang string) string {
	switch code {
	case CodeAudioCapture:
		return "No microphone audio reached the speech recognizer."
	case CodeNetwork:
		return NetworkErrorMessage
	case CodeNotAllowed:
		return "Microphone permission was denied for speech recognition."
	case CodeServiceNotAllowed:
		return "The speech recognition service is not allowed."
	case CodeAborted:
		return "Speech recognition was aborted."
	case CodeBadGrammar:
		return "Speech recognition grammar error."
	case CodeLanguageNotSupported:
		return fmt.Sprintf("Language %q is not supported for speech recognition.", lang)
	case CodeNoSpeech:
		return "No speech detected."
	default:
		return fmt.Sprintf("Speech recognition error: %s", code)
	}
}
