// Package transcription selects and drives one of three speech-to-text strategies: a live streaming
// recognizer, a hosted submit-and-poll job service, or a hosted one-shot endpoint.
package transcription

import (
	"context"

	"github.com/voxnote/backend/internal/models"
)

// StrategyKind names a transcription strategy.
type StrategyKind string

const (
	StrategyLocalLive     StrategyKind = "local-live"
	StrategyHostedBatch   StrategyKind = "hosted-batch"
	StrategyHostedOneshot StrategyKind = "hosted-oneshot"
	StrategyManual        StrategyKind = "manual"
)

// Audio is a finished clip handed to a strategy.
type Audio struct {
	Data        []byte
	ContentType string
	Filename    string
	Language    string
}

// Result is the outcome of one transcription. Error is set instead of returning a Go error so callers can
// render failure state directly; an empty Transcript with no Error means nothing was said.
type Result struct {
	Transcript string              `json:"transcript"`
	Strategy   StrategyKind        `json:"strategy"`
	Confidence *float64            `json:"confidence,omitempty"`
	Utterances []models.Utterance  `json:"utterances,omitempty"`
	Words      []models.WordTiming `json:"words,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool { return r.Error != "" }

func failure(kind StrategyKind, msg string) Result {
	return Result{Strategy: kind, Error: msg}
}

// Strategy transcribes a finished clip.
type Strategy interface {
	Kind() StrategyKind
	Transcribe(ctx context.Context, audio Audio) Result
}

// EngineInfo describes live recognition capability, as reported to clients.
type EngineInfo struct {
	Supported bool   `json:"supported"`
	Engine    string `json:"engine,omitempty"`
}
