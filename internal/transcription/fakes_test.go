package transcription

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeStream struct {
	mu     sync.Mutex
	events chan EngineEvent
	closed bool
	sent   [][]byte
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan EngineEvent, 32)}
}

func (s *fakeStream) Events() <-chan EngineEvent { return s.events }

func (s *fakeStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeStream) push(ev EngineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *fakeStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeEngine struct {
	supported bool
	// openErr, when set, is consulted with the 1-based open count.
	openErr func(n int) error

	mu     sync.Mutex
	opens  int
	opened chan *fakeStream
}

func newFakeEngine(supported bool) *fakeEngine {
	return &fakeEngine{supported: supported, opened: make(chan *fakeStream, 16)}
}

func (e *fakeEngine) Name() string    { return "fake" }
func (e *fakeEngine) Supported() bool { return e.supported }

func (e *fakeEngine) Open(_ context.Context, _ StreamConfig) (Stream, error) {
	e.mu.Lock()
	e.opens++
	n := e.opens
	e.mu.Unlock()
	if e.openErr != nil {
		if err := e.openErr(n); err != nil {
			return nil, err
		}
	}
	s := newFakeStream()
	e.opened <- s
	return s, nil
}

func (e *fakeEngine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

func (e *fakeEngine) next(timeout time.Duration) *fakeStream {
	select {
	case s := <-e.opened:
		return s
	case <-time.After(timeout):
		return nil
	}
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	c.mu.Unlock()
	return nil
}
