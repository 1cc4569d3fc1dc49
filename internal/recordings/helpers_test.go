package recordings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/transcription"
	"github.com/voxnote/backend/pkg/queue"
	"github.com/voxnote/backend/pkg/retry"
	"github.com/voxnote/backend/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTranscriber struct {
	mu     sync.Mutex
	result transcription.Result
	calls  []transcription.Audio
	block  chan struct{}
}

func (f *fakeTranscriber) TranscribeFile(ctx context.Context, audio transcription.Audio) transcription.Result {
	f.mu.Lock()
	f.calls = append(f.calls, audio)
	block := f.block
	res := f.result
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return transcription.Result{Error: "transcription cancelled"}
		}
	}
	return res
}

func (f *fakeTranscriber) seen() []transcription.Audio {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcription.Audio(nil), f.calls...)
}

type published struct {
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{event: event, payload: payload})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event)
	}
	return out
}

type fakeJobs struct {
	mu          sync.Mutex
	transcribes []queue.TranscribePayload
	imports     []queue.ImportPayload
	err         error
}

func (j *fakeJobs) EnqueueTranscription(_ context.Context, p queue.TranscribePayload) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return "", j.err
	}
	j.transcribes = append(j.transcribes, p)
	return fmt.Sprintf("job-%d", len(j.transcribes)), nil
}

func (j *fakeJobs) EnqueueImport(_ context.Context, p queue.ImportPayload) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return "", j.err
	}
	j.imports = append(j.imports, p)
	return fmt.Sprintf("import-%d", len(j.imports)), nil
}

// failingBlobs rejects every write.
type failingBlobs struct{ BlobStore }

func (failingBlobs) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func noSleepPolicy() retry.Policy {
	p := retry.New(nil)
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

type env struct {
	repo      *SQLiteRepository
	blobs     *storage.Local
	svc       *Service
	committer *capture.Committer
	pub       *recordingPublisher
	tr        *fakeTranscriber
	handler   *Handler
	router    *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	blobs, err := storage.NewLocal(t.TempDir(), "http://files.test", nil)
	require.NoError(t, err)
	e := &env{
		repo:  newSQLiteRepo(t),
		blobs: blobs,
		pub:   &recordingPublisher{},
		tr: &fakeTranscriber{result: transcription.Result{
			Transcript: "hello there",
			Strategy:   transcription.StrategyHostedOneshot,
		}},
	}
	e.svc = NewService(e.repo, blobs, nil)
	e.committer = capture.NewCommitter(context.Background(), e.svc, noSleepPolicy(), CommitEvents(e.pub), nil)
	t.Cleanup(e.committer.Wait)
	info := func() transcription.Info {
		return transcription.Info{Strategy: transcription.StrategyHostedOneshot, Online: true}
	}
	e.handler = NewHandler(e.svc, e.committer, func(string) capture.Transcriber { return e.tr }, info, e.pub,
		HandlerConfig{Language: "en", WebhookSecret: "s3cret"}, nil)
	e.router = newRouter(e.handler)
	return e
}

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/transcription/info", h.Info)
	recs := r.Group("/recordings")
	recs.GET("", h.List)
	recs.POST("", h.Upload)
	recs.GET("/:id", h.Get)
	recs.PATCH("/:id", h.Update)
	recs.DELETE("/:id", h.Delete)
	recs.POST("/:id/transcribe", h.Transcribe)
	recs.GET("/:id/download-url", h.DownloadURL)
	r.POST("/webhooks/recording-ready", h.RecordingReady)
	return r
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
