package transcription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamKey = "secret"

// newStreamServer runs script against every accepted connection and returns an engine pointed at it.
func newStreamServer(t *testing.T, script func(r *http.Request, conn *websocket.Conn)) (*WSEngine, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token "+streamKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(r, conn)
	}))
	t.Cleanup(ts.Close)
	return NewWSEngine(WSEngineConfig{URL: ts.URL, APIKey: streamKey, Model: "nova"}, nil), ts.URL
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// hangUp ends the session from the vendor side with a normal close and waits for the client's reply.
func hangUp(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session rollover"), time.Now().Add(time.Second))
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func collect(t *testing.T, s Stream, timeout time.Duration) []EngineEvent {
	t.Helper()
	var got []EngineEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("stream did not end within %s; events so far: %v", timeout, eventTypes(got))
			return got
		}
	}
}

func eventTypes(events []EngineEvent) []EngineEventType {
	out := make([]EngineEventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestWSEngineMapsFrames(t *testing.T) {
	query := make(chan url.Values, 1)
	engine, _ := newStreamServer(t, func(r *http.Request, conn *websocket.Conn) {
		query <- r.URL.Query()
		sendFrame(t, conn, `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`)
		sendFrame(t, conn, `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" hello "}]}}`)
		sendFrame(t, conn, `{"type":"Results","speech_final":true,"channel":{"alternatives":[{"transcript":"world"}]}}`)
		sendFrame(t, conn, `{"type":"Results","channel":{"alternatives":[{"transcript":"   "}]}}`)
		sendFrame(t, conn, `{"type":"Metadata"}`)
		sendFrame(t, conn, `not json`)
		sendFrame(t, conn, `{"type":"Error","code":"language-not-supported","message":"unknown language"}`)
		sendFrame(t, conn, `{"type":"Error","message":"boom"}`)
		hangUp(conn)
	})

	stream, err := engine.Open(context.Background(), StreamConfig{Language: "de", SampleRate: 24000, InterimResults: true})
	require.NoError(t, err)
	events := collect(t, stream, 3*time.Second)

	require.Equal(t, []EngineEventType{EngineResult, EngineResult, EngineResult, EngineError, EngineError, EngineEnd},
		eventTypes(events))
	assert.Equal(t, []Alternative{{Transcript: "hel", IsFinal: false}}, events[0].Results)
	assert.Equal(t, []Alternative{{Transcript: "hello", IsFinal: true}}, events[1].Results)
	assert.Equal(t, []Alternative{{Transcript: "world", IsFinal: true}}, events[2].Results)
	assert.Equal(t, CodeLanguageNotSupported, events[3].Code)
	assert.Equal(t, "unknown language", events[3].Message)
	assert.Equal(t, CodeAborted, events[4].Code)

	q := <-query
	assert.Equal(t, "de", q.Get("language"))
	assert.Equal(t, "24000", q.Get("sample_rate"))
	assert.Equal(t, "linear16", q.Get("encoding"))
	assert.Equal(t, "nova", q.Get("model"))
	assert.Equal(t, "true", q.Get("interim_results"))
}

func TestWSEngineVendorCloseWhileSilent(t *testing.T) {
	engine, _ := newStreamServer(t, func(_ *http.Request, conn *websocket.Conn) {
		sendFrame(t, conn, `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"bye"}]}}`)
		hangUp(conn)
	})

	stream, err := engine.Open(context.Background(), StreamConfig{})
	require.NoError(t, err)
	events := collect(t, stream, 3*time.Second)

	assert.Equal(t, []EngineEventType{EngineResult, EngineEnd}, eventTypes(events))
	assert.Error(t, stream.SendAudio([]byte{1, 2}), "audio is refused once the session ended")
}

func TestWSEngineVendorCloseWhileStreaming(t *testing.T) {
	engine, _ := newStreamServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		sendFrame(t, conn, `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"rolled"}]}}`)
		hangUp(conn)
	})

	stream, err := engine.Open(context.Background(), StreamConfig{})
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if err := stream.SendAudio(make([]byte, 320)); err != nil {
					return
				}
			}
		}
	}()

	events := collect(t, stream, 3*time.Second)

	assert.Equal(t, []EngineEventType{EngineResult, EngineEnd}, eventTypes(events),
		"a normal vendor close must end the session without an error")
}

func TestWSEngineCloseFlushes(t *testing.T) {
	received := make(chan int, 1)
	engine, _ := newStreamServer(t, func(_ *http.Request, conn *websocket.Conn) {
		chunks := 0
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				received <- -1
				return
			}
			if kind == websocket.BinaryMessage {
				chunks++
				continue
			}
			if strings.Contains(string(payload), `"CloseStream"`) {
				break
			}
		}
		received <- chunks
		sendFrame(t, conn, `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"flushed"}]}}`)
		hangUp(conn)
	})

	stream, err := engine.Open(context.Background(), StreamConfig{})
	require.NoError(t, err)
	require.NoError(t, stream.SendAudio([]byte{1, 2, 3, 4}))
	require.NoError(t, stream.SendAudio([]byte{5, 6}))
	require.NoError(t, stream.SendAudio(nil))
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	events := collect(t, stream, 3*time.Second)

	assert.Equal(t, 2, <-received)
	require.Equal(t, []EngineEventType{EngineResult, EngineEnd}, eventTypes(events))
	assert.Equal(t, "flushed", events[0].Results[0].Transcript)
	assert.Error(t, stream.SendAudio([]byte{7}))
}

func TestWSEngineRejectedCredentials(t *testing.T) {
	_, serverURL := newStreamServer(t, func(*http.Request, *websocket.Conn) {})
	engine := NewWSEngine(WSEngineConfig{URL: serverURL, APIKey: "wrong"}, nil)

	_, err := engine.Open(context.Background(), StreamConfig{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected credentials (status 401)")
}

func TestWSEngineUnsupported(t *testing.T) {
	engine := NewWSEngine(WSEngineConfig{URL: "wss://stream.example/v1/listen"}, nil)
	assert.False(t, engine.Supported())
	assert.Equal(t, "websocket-stream", engine.Name())

	_, err := engine.Open(context.Background(), StreamConfig{})
	assert.Error(t, err)
}

func TestBuildListenURL(t *testing.T) {
	got, err := buildListenURL(WSEngineConfig{URL: "https://stream.example/v1/listen?tier=base", SmartFormat: true},
		StreamConfig{Language: "en-US", InterimResults: true})
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "/v1/listen", u.Path)
	q := u.Query()
	assert.Equal(t, "base", q.Get("tier"))
	assert.Equal(t, "linear16", q.Get("encoding"))
	assert.Equal(t, "16000", q.Get("sample_rate"))
	assert.Equal(t, "1", q.Get("channels"))
	assert.Equal(t, "true", q.Get("interim_results"))
	assert.Equal(t, "true", q.Get("smart_format"))
	assert.Equal(t, "en-US", q.Get("language"))
	assert.False(t, q.Has("model"))

	got, err = buildListenURL(WSEngineConfig{URL: "http://localhost:9000/listen"}, StreamConfig{SampleRate: 48000})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "ws://localhost:9000/listen?"))
	assert.Contains(t, got, "sample_rate=48000")
	assert.NotContains(t, got, "language=")
}
