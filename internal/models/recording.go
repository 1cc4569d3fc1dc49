package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrRecordingNotFound is returned by stores when no recording has the requested id.
var ErrRecordingNotFound = errors.New("recording not found")

// TranscriptStatus tracks background transcription of a saved recording.
const (
	TranscriptStatusNone      = "none"
	TranscriptStatusPending   = "pending"
	TranscriptStatusCompleted = "completed"
	TranscriptStatusFailed    = "failed"
)

// Recording is a captured or uploaded audio clip and its transcription.
type Recording struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Audio              []byte       `json:"-"`
	AudioURL           string       `json:"audio_url,omitempty"`
	AudioKey           string       `json:"audio_key,omitempty"`
	ContentType        string       `json:"content_type,omitempty"`
	FileSize           int64        `json:"file_size"`
	DurationSeconds    int          `json:"duration_seconds"`
	Transcript         string       `json:"transcript,omitempty"`
	TranscriptStatus   string       `json:"transcript_status"`
	TranscriptError    string       `json:"transcript_error,omitempty"`
	TranscriptStrategy string       `json:"transcript_strategy,omitempty"`
	Utterances         []Utterance  `json:"utterances,omitempty"`
	Words              []WordTiming `json:"words,omitempty"`
	Embedding          []float32    `json:"embedding,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Utterance is one diarized speaker turn.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// WordTiming is a single word with offsets into the audio, used for playback highlighting.
type WordTiming struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

// RecordingPatch is a partial update. Nil fields are left unchanged.
type RecordingPatch struct {
	Name               *string       `json:"name,omitempty"`
	Transcript         *string       `json:"transcript,omitempty"`
	TranscriptStatus   *string       `json:"transcript_status,omitempty"`
	TranscriptError    *string       `json:"transcript_error,omitempty"`
	TranscriptStrategy *string       `json:"transcript_strategy,omitempty"`
	Utterances         *[]Utterance  `json:"utterances,omitempty"`
	Words              *[]WordTiming `json:"words,omitempty"`
}

// Apply copies the set fields of p onto rec.
func (p RecordingPatch) Apply(rec *Recording) {
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Transcript != nil {
		rec.Transcript = *p.Transcript
	}
	if p.TranscriptStatus != nil {
		rec.TranscriptStatus = *p.TranscriptStatus
	}
	if p.TranscriptError != nil {
		rec.TranscriptError = *p.TranscriptError
	}
	if p.TranscriptStrategy != nil {
		rec.TranscriptStrategy = *p.TranscriptStrategy
	}
	if p.Utterances != nil {
		rec.Utterances = *p.Utterances
	}
	if p.Words != nil {
		rec.Words = *p.Words
	}
}

// Empty reports whether the patch changes nothing.
func (p RecordingPatch) Empty() bool {
	return p.Name == nil && p.Transcript == nil && p.TranscriptStatus == nil && p.TranscriptError == nil &&
		p.TranscriptStrategy == nil && p.Utterances == nil && p.Words == nil
}

// AudioExtension returns the file extension for an audio content type, or "" when unknown.
func AudioExtension(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	default:
		return ""
	}
}

// DefaultName is the name given to recordings saved without one.
func DefaultName(createdAt time.Time) string {
	return "Recording " + createdAt.Format("2006-01-02 15:04")
}

// EnsureName fills in DefaultName when Name is blank.
func (r *Recording) EnsureName() {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = DefaultName(r.CreatedAt)
	}
}

// NormalizeWords sorts words by start time and trims any word that runs into the next word of the same speaker.
func NormalizeWords(words []WordTiming) []WordTiming {
	if len(words) == 0 {
		return words
	}
	out := make([]WordTiming, len(words))
	copy(out, words)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })

	last := make(map[string]int)
	for i := range out {
		if prev, ok := last[out[i].Speaker]; ok && out[prev].EndMs > out[i].StartMs {
			out[prev].EndMs = out[i].StartMs
		}
		if out[i].EndMs < out[i].StartMs {
			out[i].EndMs = out[i].StartMs
		}
		last[out[i].Speaker] = i
	}
	return out
}

// ValidateWords checks ordering and per-speaker overlap.
func ValidateWords(words []WordTiming) error {
	last := make(map[string]WordTiming)
	for i, w := range words {
		if i > 0 && w.StartMs < words[i-1].StartMs {
			return fmt.Errorf("word %d (%q) starts before word %d", i, w.Text, i-1)
		}
		if prev, ok := last[w.Speaker]; ok && prev.EndMs > w.StartMs {
			return fmt.Errorf("word %d (%q) overlaps %q for speaker %q", i, w.Text, prev.Text, w.Speaker)
		}
		last[w.Speaker] = w
	}
	return nil
}
