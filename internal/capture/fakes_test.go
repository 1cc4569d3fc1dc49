package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/internal/transcription"
	"github.com/voxnote/backend/pkg/retry"
)

type memStore struct {
	mu          sync.Mutex
	recs        map[string]models.Recording
	failSaves   int
	saveCalls   int
	failUpdates int
	nextID      int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]models.Recording)}
}

func (s *memStore) Save(_ context.Context, rec *models.Recording) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveCalls <= s.failSaves {
		return nil, errors.New("storage unavailable")
	}
	s.nextID++
	saved := *rec
	saved.ID = fmt.Sprintf("rec-%d", s.nextID)
	saved.AudioURL = "https://blobs.example/" + saved.ID
	saved.Audio = nil
	s.recs[saved.ID] = saved
	return &saved, nil
}

func (s *memStore) Update(_ context.Context, id string, patch models.RecordingPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("update failed")
	}
	rec, ok := s.recs[id]
	if !ok {
		return models.ErrRecordingNotFound
	}
	patch.Apply(&rec)
	s.recs[id] = rec
	return nil
}

func (s *memStore) get(id string) (models.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	return rec, ok
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type fakeMic struct {
	mu      sync.Mutex
	openErr error
	opens   int
	closes  int
	quality Quality
}

func (m *fakeMic) Open(_ context.Context, q Quality) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return m.openErr
	}
	m.quality = q
	return nil
}

func (m *fakeMic) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
}

type fakeOrch struct {
	mu      sync.Mutex
	starts  int
	stops   int
	resets  int
	closed  bool
	chunks  int
	result  transcription.Result
	block   bool
	audio   []transcription.Audio
	started chan struct{}
}

func newFakeOrch(res transcription.Result) *fakeOrch {
	return &fakeOrch{result: res, started: make(chan struct{}, 1)}
}

func (o *fakeOrch) TranscribeFile(ctx context.Context, audio transcription.Audio) transcription.Result {
	o.mu.Lock()
	o.audio = append(o.audio, audio)
	block := o.block
	o.mu.Unlock()
	select {
	case o.started <- struct{}{}:
	default:
	}
	if block {
		<-ctx.Done()
		return transcription.Result{Error: "transcription cancelled"}
	}
	return o.result
}

func (o *fakeOrch) StartRealTime(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
	return nil
}

func (o *fakeOrch) StopRealTime() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
}

func (o *fakeOrch) ResetTranscript() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets++
}

func (o *fakeOrch) SendAudio([]byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks++
	return nil
}

func (o *fakeOrch) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.stops++
}

type sleeps struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func (s *sleeps) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, w := range s.waits {
		sum += w
	}
	return sum
}

func testPolicy(s *sleeps) retry.Policy {
	p := retry.New(nil)
	p.Sleep = s.sleep
	return p
}
