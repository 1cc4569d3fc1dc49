package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSEngineConfig configures the streaming WebSocket engine.
type WSEngineConfig struct {
	URL         string // e.g. wss://api.deepgram.com/v1/listen
	APIKey      string
	Model       string
	SmartFormat bool
}

// WSEngine streams PCM audio to a vendor WebSocket listen endpoint and turns its frames into EngineEvents.
type WSEngine struct {
	cfg    WSEngineConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWSEngine creates the engine. It reports unsupported when URL or APIKey is empty.
func NewWSEngine(cfg WSEngineConfig, logger *zap.Logger) *WSEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSEngine{cfg: cfg, dialer: websocket.DefaultDialer, logger: logger}
}

func (e *WSEngine) Name() string { return "websocket-stream" }

func (e *WSEngine) Supported() bool {
	return strings.TrimSpace(e.cfg.URL) != "" && strings.TrimSpace(e.cfg.APIKey) != ""
}

func (e *WSEngine) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if !e.Supported() {
		return nil, errors.New("streaming engine is not configured")
	}
	listenURL, err := buildListenURL(e.cfg, cfg)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("streaming engine rejected credentials (status %d)", resp.StatusCode)
		}
		return nil, fmt.Errorf("dial streaming engine: %w", err)
	}

	s := &wsStream{
		conn:     conn,
		events:   make(chan EngineEvent, 64),
		audio:    make(chan []byte, 32),
		sendStop: make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   e.logger,
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		select {
		case s.events <- EngineEvent{Type: EngineEnd}:
		default:
		}
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

const closeGrace = 2 * time.Second

type wsStream struct {
	conn     *websocket.Conn
	events   chan EngineEvent
	audio    chan []byte
	sendStop chan struct{}
	readDone chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	logger   *zap.Logger

	sendMu     sync.RWMutex
	sendClosed bool
	sendOnce   sync.Once
	closeOnce  sync.Once
}

func (s *wsStream) Events() <-chan EngineEvent { return s.events }

func (s *wsStream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("stream closed")
	}
	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.sendStop:
		return errors.New("stream closed")
	}
}

// Close stops sending audio and asks the vendor to flush. The connection is dropped if the vendor has not
// hung up within closeGrace.
func (s *wsStream) Close() error {
	s.closeSend()
	s.closeOnce.Do(func() {
		go func() {
			t := time.NewTimer(closeGrace)
			defer t.Stop()
			select {
			case <-s.done:
			case <-t.C:
				_ = s.conn.Close()
			}
		}()
	})
	return nil
}

// closeSend ends the audio side. writeLoop drains what is queued, then sends CloseStream.
func (s *wsStream) closeSend() {
	s.sendOnce.Do(func() {
		close(s.sendStop)
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
}

func (s *wsStream) readEnded() bool {
	select {
	case <-s.readDone:
		return true
	default:
		return false
	}
}

func (s *wsStream) writeLoop() {
	defer s.wg.Done()
	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			// Once the vendor has hung up, failed writes are part of a normal end of session.
			if !s.readEnded() && !errors.Is(err, websocket.ErrCloseSent) {
				s.emit(EngineEvent{Type: EngineError, Code: CodeNetwork, Message: err.Error()})
			}
			_ = s.conn.Close()
			return
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		_ = s.conn.Close()
	}
}

func (s *wsStream) readLoop() {
	defer s.wg.Done()
	defer s.closeSend()
	defer close(s.readDone)
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, net.ErrClosed) {
				s.emit(EngineEvent{Type: EngineError, Code: CodeNetwork, Message: err.Error()})
			}
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.logger.Debug("skip undecodable stream frame", zap.Error(err))
			continue
		}
		if strings.EqualFold(frame.Type, "Error") {
			code := frame.Code
			if code == "" {
				code = CodeAborted
			}
			s.emit(EngineEvent{Type: EngineError, Code: code, Message: frame.Message})
			continue
		}
		if len(frame.Channel.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(frame.Channel.Alternatives[0].Transcript)
		if text == "" {
			continue
		}
		s.emit(EngineEvent{
			Type:    EngineResult,
			Results: []Alternative{{Transcript: text, IsFinal: frame.IsFinal || frame.SpeechFinal}},
		})
	}
}

func (s *wsStream) emit(ev EngineEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

type streamFrame struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func buildListenURL(engineCfg WSEngineConfig, streamCfg StreamConfig) (string, error) {
	base := strings.TrimSpace(engineCfg.URL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid streaming engine URL: %w", err)
	}
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	q := u.Query()
	if engineCfg.Model != "" {
		q.Set("model", engineCfg.Model)
	}
	q.Set("encoding", streamCfg.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	q.Set("smart_format", fmt.Sprintf("%t", engineCfg.SmartFormat))
	if streamCfg.Language != "" {
		q.Set("language", streamCfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
