package transcription

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type recognizerSink struct {
	mu      sync.Mutex
	results []string
	errs    []string
}

func (s *recognizerSink) onResult(text string, isFinal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag := "partial:"
	if isFinal {
		tag = "final:"
	}
	s.results = append(s.results, tag+text)
}

func (s *recognizerSink) onError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
}

func (s *recognizerSink) snapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.results...), append([]string(nil), s.errs...)
}

func startRecognizer(t *testing.T, engine *fakeEngine) (*LiveRecognizer, *recognizerSink, *fakeStream) {
	t.Helper()
	r := NewLiveRecognizer(engine, 16000, nil)
	sink := &recognizerSink{}
	require.True(t, r.Start("en-US", sink.onResult, sink.onError))
	t.Cleanup(r.Stop)
	stream := engine.next(waitFor)
	require.NotNil(t, stream)
	return r, sink, stream
}

func TestLiveRecognizerUnsupported(t *testing.T) {
	r := NewLiveRecognizer(newFakeEngine(false), 16000, nil)
	assert.False(t, r.Supported())
	assert.False(t, r.Start("en-US", nil, nil))

	assert.False(t, NewLiveRecognizer(nil, 16000, nil).Supported())
}

func TestLiveRecognizerEmitsFinalizedAndPartial(t *testing.T) {
	engine := newFakeEngine(true)
	r, sink, stream := startRecognizer(t, engine)

	stream.push(EngineEvent{Type: EngineResult, Results: []Alternative{{Transcript: "hello", IsFinal: true}, {Transcript: "wor"}}})
	stream.push(EngineEvent{Type: EngineResult, ResultIndex: 1, Results: []Alternative{{Transcript: "hello", IsFinal: true}, {Transcript: "world", IsFinal: true}}})

	require.Eventually(t, func() bool {
		res, _ := sink.snapshot()
		return len(res) == 4
	}, waitFor, 5*time.Millisecond)

	res, errs := sink.snapshot()
	assert.Equal(t, []string{"final:hello", "partial:hello wor", "final:hello world", "partial:hello world"}, res)
	assert.Empty(t, errs)
	assert.Equal(t, "hello world", r.Transcript())
}

func TestLiveRecognizerRestartsOnEnd(t *testing.T) {
	engine := newFakeEngine(true)
	r, _, stream := startRecognizer(t, engine)

	stream.push(EngineEvent{Type: EngineEnd})

	next := engine.next(waitFor)
	require.NotNil(t, next, "expected the recognizer to reopen the engine")
	assert.True(t, stream.isClosed())
	assert.Equal(t, 2, engine.openCount())

	require.Eventually(t, func() bool { return r.SendAudio([]byte{1, 2}) == nil && next.sentCount() == 1 }, waitFor, 5*time.Millisecond)
}

func TestLiveRecognizerNoRestartAfterPermissionError(t *testing.T) {
	engine := newFakeEngine(true)
	r, sink, stream := startRecognizer(t, engine)

	stream.push(EngineEvent{Type: EngineError, Code: CodeNotAllowed})
	stream.push(EngineEvent{Type: EngineEnd})

	require.Eventually(t, func() bool { return !r.Active() }, waitFor, 5*time.Millisecond)
	assert.Nil(t, engine.next(50*time.Millisecond))
	assert.Equal(t, 1, engine.openCount())

	_, errs := sink.snapshot()
	assert.Equal(t, []string{ErrorMessage(CodeNotAllowed, "en-US")}, errs)
}

func TestLiveRecognizerSwallowsNoSpeech(t *testing.T) {
	engine := newFakeEngine(true)
	_, sink, stream := startRecognizer(t, engine)

	stream.push(EngineEvent{Type: EngineError, Code: CodeNoSpeech})
	stream.push(EngineEvent{Type: EngineResult, Results: []Alternative{{Transcript: "ok", IsFinal: true}}})

	require.Eventually(t, func() bool {
		res, _ := sink.snapshot()
		return len(res) == 2
	}, waitFor, 5*time.Millisecond)
	_, errs := sink.snapshot()
	assert.Empty(t, errs)
}

func TestLiveRecognizerRestartFailureReportsMaxRestart(t *testing.T) {
	engine := newFakeEngine(true)
	engine.openErr = func(n int) error {
		if n > 1 {
			return errors.New("dial refused")
		}
		return nil
	}
	r, sink, stream := startRecognizer(t, engine)

	stream.push(EngineEvent{Type: EngineEnd})

	require.Eventually(t, func() bool {
		_, errs := sink.snapshot()
		return len(errs) == 1
	}, waitFor, 5*time.Millisecond)
	_, errs := sink.snapshot()
	assert.True(t, IsMaxRestartMessage(errs[0]))
	assert.Contains(t, errs[0], "dial refused")
	assert.False(t, r.Active())
	assert.Equal(t, 2, engine.openCount())
}

func TestLiveRecognizerStopPreventsRestart(t *testing.T) {
	engine := newFakeEngine(true)
	r, _, stream := startRecognizer(t, engine)

	r.Stop()
	r.Stop()

	assert.True(t, stream.isClosed())
	assert.Nil(t, engine.next(50*time.Millisecond))
	assert.Equal(t, 1, engine.openCount())
	assert.ErrorIs(t, r.SendAudio([]byte{1}), ErrNotListening)
}

func TestLiveRecognizerStartStopsPrevious(t *testing.T) {
	engine := newFakeEngine(true)
	r, _, first := startRecognizer(t, engine)

	require.True(t, r.Start("en-US", nil, nil))
	second := engine.next(waitFor)
	require.NotNil(t, second)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Equal(t, 2, engine.openCount())
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, NetworkErrorMessage, ErrorMessage(CodeNetwork, ""))
	assert.Contains(t, ErrorMessage(CodeLanguageNotSupported, "xx-YY"), "xx-YY")
	assert.Equal(t, "Speech recognition error: weird", ErrorMessage("weird", ""))
}
