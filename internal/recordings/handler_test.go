package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/internal/transcription"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	if v != nil {
		require.NoError(t, json.Unmarshal(body.Data, v))
	}
	return body
}

func wavClip(t *testing.T, seconds int) []byte {
	t.Helper()
	data, err := capture.EncodeWAV(make([]byte, 2*16000*seconds), 16000)
	require.NoError(t, err)
	return data
}

func uploadRequest(t *testing.T, data []byte, contentType string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="clip"`)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/recordings", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func seed(t *testing.T, e *env, name string) *models.Recording {
	t.Helper()
	saved, err := e.svc.Save(context.Background(), &models.Recording{Name: name, Audio: []byte("RIFF"), ContentType: "audio/wav"})
	require.NoError(t, err)
	return saved
}

func TestUploadSavesThenTranscribes(t *testing.T) {
	e := newEnv(t)

	w := e.do(uploadRequest(t, wavClip(t, 2), "", map[string]string{"name": "Standup", "language": "de"}))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var saved models.Recording
	decode(t, w, &saved)
	assert.Equal(t, "Standup", saved.Name)
	assert.Equal(t, "audio/wav", saved.ContentType)
	assert.Equal(t, 2, saved.DurationSeconds)
	assert.Equal(t, models.TranscriptStatusPending, saved.TranscriptStatus)

	e.committer.Wait()
	got, err := e.svc.Get(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", got.Transcript)
	assert.Equal(t, models.TranscriptStatusCompleted, got.TranscriptStatus)
	assert.Equal(t, string(transcription.StrategyHostedOneshot), got.TranscriptStrategy)

	calls := e.tr.seen()
	require.Len(t, calls, 1)
	assert.Equal(t, "de", calls[0].Language)
	assert.Equal(t, "Standup.wav", calls[0].Filename)
	assert.Equal(t, []string{EventRecordingSaved, EventRecordingTranscribed}, e.pub.names())
}

func TestUploadWithoutFileTranscriber(t *testing.T) {
	e := newEnv(t)
	e.handler.newTranscriber = func(string) capture.Transcriber { return nil }

	w := e.do(uploadRequest(t, []byte("webm bytes"), "audio/webm", map[string]string{"duration_seconds": "12"}))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var saved models.Recording
	decode(t, w, &saved)
	assert.Equal(t, models.TranscriptStatusNone, saved.TranscriptStatus)
	assert.Equal(t, 12, saved.DurationSeconds)
	assert.Equal(t, "audio/webm", saved.ContentType)
	assert.True(t, strings.HasSuffix(saved.AudioURL, ".webm"))
}

func TestUploadValidation(t *testing.T) {
	e := newEnv(t)

	w := e.do(uploadRequest(t, nil, "audio/wav", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(uploadRequest(t, []byte("x"), "audio/wav", map[string]string{"duration_seconds": "-1"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/recordings", strings.NewReader("plain"))
	w = e.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadTooLarge(t *testing.T) {
	e := newEnv(t)
	e.handler.cfg.MaxUploadBytes = 1024

	w := e.do(uploadRequest(t, make([]byte, 4096), "audio/wav", nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadStorageExhausted(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.repo, failingBlobs{e.blobs}, nil)
	committer := capture.NewCommitter(context.Background(), svc, noSleepPolicy(), capture.CommitEvents{}, nil)
	e.handler = NewHandler(svc, committer, e.handler.newTranscriber, e.handler.info, e.pub, e.handler.cfg, nil)
	e.router = newRouter(e.handler)

	w := e.do(uploadRequest(t, []byte("x"), "audio/wav", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w, nil)
	assert.Contains(t, body.Error, "failed after 3 attempts")
	assert.Empty(t, e.tr.seen())
}

func TestListAndGet(t *testing.T) {
	e := newEnv(t)
	first := seed(t, e, "first")

	w := e.do(httptest.NewRequest(http.MethodGet, "/recordings", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Recording
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	w = e.do(httptest.NewRequest(http.MethodGet, "/recordings/"+first.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Recording
	decode(t, w, &got)
	assert.Equal(t, "first", got.Name)

	w = e.do(httptest.NewRequest(http.MethodGet, "/recordings/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPatchNameAndTranscript(t *testing.T) {
	e := newEnv(t)
	rec := seed(t, e, "old")
	words := []models.WordTiming{{Text: "auto", StartMs: 0, EndMs: 100}}
	require.NoError(t, e.svc.Update(context.Background(), rec.ID, models.RecordingPatch{Words: &words}))

	w := e.do(jsonRequest(http.MethodPatch, "/recordings/"+rec.ID, `{"name":"  Renamed  "}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Recording
	decode(t, w, &got)
	assert.Equal(t, "Renamed", got.Name)

	w = e.do(jsonRequest(http.MethodPatch, "/recordings/"+rec.ID, `{"transcript":"typed by hand"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &got)
	assert.Equal(t, "typed by hand", got.Transcript)
	assert.Equal(t, models.TranscriptStatusCompleted, got.TranscriptStatus)
	assert.Equal(t, string(transcription.StrategyManual), got.TranscriptStrategy)
	assert.Empty(t, got.Words)

	assert.Equal(t, []string{EventRecordingUpdated, EventRecordingUpdated}, e.pub.names())

	w = e.do(jsonRequest(http.MethodPatch, "/recordings/"+rec.ID, `{"name":"   "}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(jsonRequest(http.MethodPatch, "/recordings/"+rec.ID, `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(jsonRequest(http.MethodPatch, "/recordings/missing", `{"name":"x"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRecording(t *testing.T) {
	e := newEnv(t)
	rec := seed(t, e, "bye")

	w := e.do(httptest.NewRequest(http.MethodDelete, "/recordings/"+rec.ID, nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/recordings/"+rec.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(httptest.NewRequest(http.MethodDelete, "/recordings/"+rec.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{EventRecordingDeleted}, e.pub.names())
}

func TestTranscribeInProcess(t *testing.T) {
	e := newEnv(t)
	rec := seed(t, e, "again")

	w := e.do(jsonRequest(http.MethodPost, "/recordings/"+rec.ID+"/transcribe", `{"language":"fr"}`))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, string(models.TranscriptStatusPending), body["status"])

	e.committer.Wait()
	calls := e.tr.seen()
	require.Len(t, calls, 1)
	assert.Equal(t, "fr", calls[0].Language)
	assert.Equal(t, []byte("RIFF"), calls[0].Data)
	got, err := e.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", got.Transcript)
}

func TestTranscribeWhileInFlight(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	e.tr.block = release
	rec := seed(t, e, "busy")

	w := e.do(httptest.NewRequest(http.MethodPost, "/recordings/"+rec.ID+"/transcribe", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Eventually(t, func() bool { return len(e.tr.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)

	w = e.do(httptest.NewRequest(http.MethodPost, "/recordings/"+rec.ID+"/transcribe", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	close(release)
	e.committer.Wait()
	assert.Len(t, e.tr.seen(), 1)
}

func TestTranscribeQueued(t *testing.T) {
	e := newEnv(t)
	jobs := &fakeJobs{}
	e.handler.SetJobs(jobs)
	rec := seed(t, e, "queued")

	w := e.do(httptest.NewRequest(http.MethodPost, "/recordings/"+rec.ID+"/transcribe", nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "job-1", body["job_id"])

	require.Len(t, jobs.transcribes, 1)
	assert.Equal(t, rec.ID, jobs.transcribes[0].RecordingID)
	assert.Equal(t, "en", jobs.transcribes[0].Language)
	assert.Empty(t, e.tr.seen())
	got, err := e.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TranscriptStatusPending, got.TranscriptStatus)

	jobs.err = errors.New("redis down")
	w = e.do(httptest.NewRequest(http.MethodPost, "/recordings/"+rec.ID+"/transcribe", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTranscribeUnavailable(t *testing.T) {
	e := newEnv(t)
	e.handler.newTranscriber = nil
	rec := seed(t, e, "x")

	w := e.do(httptest.NewRequest(http.MethodPost, "/recordings/"+rec.ID+"/transcribe", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = e.do(httptest.NewRequest(http.MethodPost, "/recordings/missing/transcribe", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadURLAndInfo(t *testing.T) {
	e := newEnv(t)
	rec := seed(t, e, "dl")

	w := e.do(httptest.NewRequest(http.MethodGet, "/recordings/"+rec.ID+"/download-url", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var dl struct {
		URL       string `json:"download_url"`
		ExpiresIn int    `json:"expires_in"`
	}
	decode(t, w, &dl)
	assert.Equal(t, rec.AudioURL, dl.URL)

	w = e.do(httptest.NewRequest(http.MethodGet, "/transcription/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Strategy       string `json:"strategy"`
		Online         bool   `json:"online"`
		QueueAvailable bool   `json:"queue_available"`
	}
	decode(t, w, &info)
	assert.Equal(t, "hosted-oneshot", info.Strategy)
	assert.True(t, info.Online)
	assert.False(t, info.QueueAvailable)
}

func TestRecordingReadyWebhook(t *testing.T) {
	e := newEnv(t)
	valid := `{"file_url":"https://recorder.example/clip.wav","name":"Call"}`

	req := jsonRequest(http.MethodPost, "/webhooks/recording-ready", valid)
	w := e.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = jsonRequest(http.MethodPost, "/webhooks/recording-ready", valid)
	req.Header.Set(WebhookSecretHeader, "s3cret")
	w = e.do(req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	jobs := &fakeJobs{}
	e.handler.SetJobs(jobs)

	req = jsonRequest(http.MethodPost, "/webhooks/recording-ready", `{"file_url":"ftp://x/y"}`)
	req.Header.Set(WebhookSecretHeader, "s3cret")
	w = e.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = jsonRequest(http.MethodPost, "/webhooks/recording-ready", valid)
	req.Header.Set(WebhookSecretHeader, "s3cret")
	w = e.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "import-1", body["job_id"])
	require.Len(t, jobs.imports, 1)
	assert.Equal(t, "Call", jobs.imports[0].Name)
	assert.Equal(t, "en", jobs.imports[0].Language)
}
