package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/models"
	"github.com/voxnote/backend/internal/netmon"
	"github.com/voxnote/backend/internal/transcription"
)

// Capture socket events, client to server.
const (
	EventStart    = "start"
	EventMicError = "mic_error"
	EventPause    = "pause"
	EventResume   = "resume"
	EventStop     = "stop"
)

// Capture socket events, server to client.
const (
	EventStatus              = "status"
	EventPartial             = "partial"
	EventLevel               = "level"
	EventElapsed             = "elapsed"
	EventDurationWarning     = "duration_warning"
	EventAutoStopped         = "auto_stopped"
	EventSaved               = "saved"
	EventTranscribed         = "transcribed"
	EventTranscriptionFailed = "transcription_failed"
	EventError               = "error"
	EventNotice              = "notice"
	EventNetwork             = "network"
	EventProgress            = "progress"
	EventMicRelease          = "mic_release"
)

// maxFrameBytes bounds one PCM frame; browsers send about 100 ms per frame.
const maxFrameBytes = 1 << 20

// OrchestratorFactory builds the transcription side of one capture session.
type OrchestratorFactory func(sampleRate int, language string, obs transcription.Observer) capture.Orchestrator

// CaptureDeps are the process-wide collaborators of capture sockets.
type CaptureDeps struct {
	NewOrchestrator OrchestratorFactory
	Committer       *capture.Committer
	Monitor         *netmon.Monitor
	Config          capture.Config
	Language        string
	Logger          *zap.Logger
}

type startRequest struct {
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language"`
}

type micErrorRequest struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type errorPayload struct {
	Cause   capture.Cause `json:"cause,omitempty"`
	Message string        `json:"message"`
}

// ServeCapture handles GET /ws/capture. Each connection drives its own capture controller: the browser
// streams PCM16 frames as binary messages and control events as JSON.
func ServeCapture(deps CaptureDeps) gin.HandlerFunc {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s := newCaptureSession(conn, deps, logger)
		go writePump(conn, s.send, s.done)
		s.run()
	}
}

type captureSession struct {
	conn   *websocket.Conn
	deps   CaptureDeps
	ctrl   *capture.Controller
	mic    *socketMic
	send   chan WSMessage
	done   chan struct{}
	logger *zap.Logger

	mu       sync.Mutex
	language string
}

func newCaptureSession(conn *websocket.Conn, deps CaptureDeps, logger *zap.Logger) *captureSession {
	s := &captureSession{
		conn:     conn,
		deps:     deps,
		send:     make(chan WSMessage, 256),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("remote", conn.RemoteAddr().String())),
		language: deps.Language,
	}
	s.mic = &socketMic{emit: s.emit}

	cfg := deps.Config
	// The session orchestrator carries the language chosen at start.
	cfg.Language = ""
	events := capture.Events{
		OnElapsed: func(seconds int) {
			s.emit(EventElapsed, gin.H{"seconds": seconds})
		},
		OnLevel: func(level float64) {
			s.emit(EventLevel, gin.H{"level": level})
		},
		OnDurationWarning: func(remaining time.Duration) {
			s.emit(EventDurationWarning, gin.H{"remaining_seconds": int(remaining.Seconds())})
		},
		OnAutoStop: func(rec *models.Recording, err error) {
			if err != nil {
				s.emit(EventError, errorPayload{Message: err.Error()})
				return
			}
			s.emit(EventAutoStopped, rec)
		},
		Commit: capture.CommitEvents{
			OnSaved: func(rec *models.Recording) {
				s.emit(EventSaved, rec)
			},
			OnTranscribed: func(rec *models.Recording) {
				s.emit(EventTranscribed, rec)
			},
			OnTranscriptionFailed: func(rec *models.Recording, msg string) {
				s.emit(EventTranscriptionFailed, gin.H{"recording_id": rec.ID, "error": msg})
			},
		},
	}
	s.ctrl = capture.NewController(cfg, s.mic, s.newOrchestrator, deps.Committer, events, logger)
	return s
}

func (s *captureSession) newOrchestrator(q capture.Quality) capture.Orchestrator {
	s.mu.Lock()
	language := s.language
	s.mu.Unlock()
	return s.deps.NewOrchestrator(int(q), language, transcription.Observer{
		OnStatus: func(status transcription.Status, message string) {
			s.emit(EventStatus, gin.H{"status": status, "message": message})
		},
		OnPartial: func(finalized, full string) {
			s.emit(EventPartial, gin.H{"finalized": finalized, "text": full})
		},
		OnProgress: func(jobID string, percent int, status string) {
			s.emit(EventProgress, gin.H{"job_id": jobID, "percent": percent, "status": status})
		},
		OnNotice: func(message string) {
			s.emit(EventNotice, gin.H{"message": message})
		},
	})
}

// emit queues a message for the client. It never blocks; messages for a gone or slow client are dropped.
func (s *captureSession) emit(event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		s.logger.Warn("encode capture event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- msg:
	case <-s.done:
	default:
		s.logger.Debug("capture client too slow, dropping event", zap.String("event", event))
	}
}

func (s *captureSession) run() {
	var unsubscribe func()
	if m := s.deps.Monitor; m != nil {
		s.emit(EventNetwork, gin.H{"online": m.Online()})
		unsubscribe = m.Subscribe(func(online bool) {
			s.emit(EventNetwork, gin.H{"online": online})
		})
	}
	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
		s.ctrl.Discard()
		close(s.done)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("capture socket closed", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if kind == websocket.BinaryMessage {
			if err := s.ctrl.Write(data); err != nil && !errors.Is(err, capture.ErrNotRecording) {
				s.logger.Warn("write capture frame", zap.Error(err))
			}
			continue
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.emit(EventError, errorPayload{Message: "invalid message"})
			continue
		}
		s.handle(msg)
	}
}

func (s *captureSession) handle(msg WSMessage) {
	ctx := context.Background()
	switch msg.Event {
	case EventStart:
		var req startRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.emit(EventError, errorPayload{Message: "invalid start request"})
				return
			}
		}
		q, err := capture.ParseQuality(req.SampleRate)
		if err != nil {
			s.emit(EventError, errorPayload{Cause: capture.CauseUnsupportedConstraints, Message: err.Error()})
			return
		}
		if req.Language != "" {
			s.mu.Lock()
			s.language = req.Language
			s.mu.Unlock()
		}
		s.start(ctx, q)
	case EventMicError:
		var req micErrorRequest
		_ = json.Unmarshal(msg.Data, &req)
		s.mic.fail(capture.ClassifyAcquisition(req.Name, req.Message))
		s.start(ctx, capture.QualityLow)
	case EventPause:
		s.report(s.ctrl.Pause())
	case EventResume:
		s.report(s.ctrl.Resume())
	case EventStop:
		if _, err := s.ctrl.Stop(ctx); err != nil {
			s.report(err)
		}
	default:
		s.logger.Debug("ignore capture event", zap.String("event", msg.Event))
	}
}

func (s *captureSession) start(ctx context.Context, q capture.Quality) {
	err := s.ctrl.Start(ctx, q)
	var acq *capture.AcquisitionError
	if errors.As(err, &acq) {
		s.emit(EventError, errorPayload{Cause: acq.Cause, Message: acq.Message})
		return
	}
	s.report(err)
}

func (s *captureSession) report(err error) {
	if err != nil {
		s.emit(EventError, errorPayload{Message: err.Error()})
	}
}

// socketMic stands in for the browser microphone. The browser acquires the device before sending start,
// or reports the failure with mic_error, which the next Open returns.
type socketMic struct {
	emit func(event string, payload interface{})

	mu      sync.Mutex
	pending *capture.AcquisitionError
	open    bool
}

func (m *socketMic) fail(err *capture.AcquisitionError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = err
}

func (m *socketMic) Open(_ context.Context, _ capture.Quality) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pending; err != nil {
		m.pending = nil
		return err
	}
	m.open = true
	return nil
}

// Close tells the browser to release the device.
func (m *socketMic) Close() {
	m.mu.Lock()
	wasOpen := m.open
	m.open = false
	m.mu.Unlock()
	if wasOpen {
		m.emit(EventMicRelease, nil)
	}
}
