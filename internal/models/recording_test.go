package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWords(t *testing.T) {
	words := []WordTiming{
		{Text: "world", StartMs: 500, EndMs: 900, Speaker: "A"},
		{Text: "hello", StartMs: 0, EndMs: 600, Speaker: "A"},
		{Text: "hi", StartMs: 100, EndMs: 300, Speaker: "B"},
	}

	out := NormalizeWords(words)

	require.NoError(t, ValidateWords(out))
	assert.Equal(t, []string{"hello", "hi", "world"}, []string{out[0].Text, out[1].Text, out[2].Text})
	assert.Equal(t, int64(500), out[0].EndMs)
	assert.Equal(t, int64(600), words[1].EndMs, "input must not be modified")
}

func TestValidateWordsRejectsOverlap(t *testing.T) {
	err := ValidateWords([]WordTiming{
		{Text: "a", StartMs: 0, EndMs: 500},
		{Text: "b", StartMs: 400, EndMs: 800},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")

	err = ValidateWords([]WordTiming{
		{Text: "a", StartMs: 400, EndMs: 500},
		{Text: "b", StartMs: 0, EndMs: 100},
	})
	require.Error(t, err)
}

func TestEnsureName(t *testing.T) {
	created := time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC)
	rec := Recording{Name: "  ", CreatedAt: created}
	rec.EnsureName()
	assert.Equal(t, "Recording 2026-03-04 09:05", rec.Name)

	rec = Recording{Name: " standup ", CreatedAt: created}
	rec.EnsureName()
	assert.Equal(t, "standup", rec.Name)
}

func TestPatchApply(t *testing.T) {
	rec := Recording{ID: "r1", Name: "old", DurationSeconds: 12}
	text := "hello"
	status := TranscriptStatusCompleted
	patch := RecordingPatch{Transcript: &text, TranscriptStatus: &status}

	assert.False(t, patch.Empty())
	patch.Apply(&rec)

	assert.Equal(t, "old", rec.Name)
	assert.Equal(t, "hello", rec.Transcript)
	assert.Equal(t, TranscriptStatusCompleted, rec.TranscriptStatus)
	assert.Equal(t, 12, rec.DurationSeconds)
	assert.True(t, RecordingPatch{}.Empty())
}

func TestAudioExtension(t *testing.T) {
	assert.Equal(t, ".wav", AudioExtension("audio/wav"))
	assert.Equal(t, ".webm", AudioExtension("audio/webm;codecs=opus"))
	assert.Equal(t, ".mp3", AudioExtension(" Audio/MPEG "))
	assert.Equal(t, "", AudioExtension("application/octet-stream"))
}
