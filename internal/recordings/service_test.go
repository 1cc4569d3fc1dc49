package recordings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxnote/backend/internal/models"
)

func TestServiceSaveStoresBlobAndRow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := &models.Recording{
		Audio:       []byte("RIFFdata"),
		ContentType: "audio/wav",
		CreatedAt:   time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}

	saved, err := e.svc.Save(ctx, rec)
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Empty(t, rec.ID)
	assert.Equal(t, "Recording 2024-05-01 09:30", saved.Name)
	assert.Equal(t, "recordings/"+saved.ID+".wav", saved.AudioKey)
	assert.Equal(t, "http://files.test/recordings/"+saved.ID+".wav", saved.AudioURL)
	assert.Equal(t, int64(8), saved.FileSize)
	assert.Nil(t, saved.Audio)
	assert.Equal(t, models.TranscriptStatusNone, saved.TranscriptStatus)

	onDisk, err := os.ReadFile(filepath.Join(e.blobs.Root(), "recordings", saved.ID+".wav"))
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFdata"), onDisk)

	got, err := e.svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.AudioURL, got.AudioURL)

	audio, err := e.svc.Audio(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFdata"), audio)
}

func TestServiceSaveRejectsEmptyAudio(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Save(context.Background(), &models.Recording{Name: "x"})
	assert.Error(t, err)
}

func TestServiceSaveUploadFailureLeavesNoRow(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.repo, failingBlobs{e.blobs}, nil)

	_, err := svc.Save(context.Background(), &models.Recording{Audio: []byte("x"), ContentType: "audio/webm"})
	require.Error(t, err)

	list, err := e.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServiceDeleteRemovesBlob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	saved, err := e.svc.Save(ctx, &models.Recording{Audio: []byte("ogg"), ContentType: "audio/ogg; codecs=opus"})
	require.NoError(t, err)
	path := filepath.Join(e.blobs.Root(), "recordings", saved.ID+".ogg")
	require.FileExists(t, path)

	require.NoError(t, e.svc.Delete(ctx, saved.ID))

	assert.NoFileExists(t, path)
	_, err = e.svc.Get(ctx, saved.ID)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
	assert.ErrorIs(t, e.svc.Delete(ctx, saved.ID), models.ErrRecordingNotFound)
}

func TestServiceUpdateNormalisesWords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	saved, err := e.svc.Save(ctx, &models.Recording{Audio: []byte("a"), ContentType: "audio/wav"})
	require.NoError(t, err)

	words := []models.WordTiming{{Text: "b", StartMs: 500, EndMs: 900}, {Text: "a", StartMs: 0, EndMs: 600}}
	require.NoError(t, e.svc.Update(ctx, saved.ID, models.RecordingPatch{Words: &words}))
	require.NoError(t, e.svc.Update(ctx, saved.ID, models.RecordingPatch{}))

	got, err := e.svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	require.NoError(t, models.ValidateWords(got.Words))
	assert.Equal(t, "a", got.Words[0].Text)
}
