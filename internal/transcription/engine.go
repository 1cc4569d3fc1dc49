package transcription

import "context"

// EngineEventType is the kind of event a streaming engine emits.
type EngineEventType string

const (
	EngineResult EngineEventType = "result"
	EngineError  EngineEventType = "error"
	EngineEnd    EngineEventType = "end"
)

// Error codes reported by streaming engines.
const (
	CodeNoSpeech             = "no-speech"
	CodeAborted              = "aborted"
	CodeAudioCapture         = "audio-capture"
	CodeNetwork              = "network"
	CodeNotAllowed           = "not-allowed"
	CodeServiceNotAllowed    = "service-not-allowed"
	CodeBadGrammar           = "bad-grammar"
	CodeLanguageNotSupported = "language-not-supported"
)

// Alternative is one recognized segment.
type Alternative struct {
	Transcript string
	IsFinal    bool
}

// EngineEvent is one message of a recognition session. Results[ResultIndex:] are the segments that changed.
type EngineEvent struct {
	Type        EngineEventType
	ResultIndex int
	Results     []Alternative
	Code        string
	Message     string
}

// StreamConfig configures a recognition session.
type StreamConfig struct {
	Language       string
	SampleRate     int
	Encoding       string
	InterimResults bool
	Continuous     bool
}

// Stream is an open recognition session. Events is closed once the session has ended.
type Stream interface {
	Events() <-chan EngineEvent
	SendAudio(chunk []byte) error
	Close() error
}

// Engine opens streaming recognition sessions.
type Engine interface {
	Name() string
	Supported() bool
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}
