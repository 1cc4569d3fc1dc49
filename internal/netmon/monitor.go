// Package netmon tracks connectivity to the transcription vendors and notifies subscribers on transitions.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener is called with the new state on every online/offline transition.
type Listener func(online bool)

// Monitor holds the current connectivity state. It starts online.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]Listener
	nextID    int

	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// Config controls the optional background probe.
type Config struct {
	ProbeURL string
	Interval time.Duration
	Timeout  time.Duration
}

// New creates a monitor. With an empty ProbeURL, Run is a no-op and state only changes through Set.
func New(cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Monitor{
		online:    true,
		listeners: make(map[int]Listener),
		probeURL:  cfg.ProbeURL,
		interval:  cfg.Interval,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn and returns a func that removes it.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Set records a state; listeners are only called when it differs from the previous one.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.logger.Info("network state changed", zap.Bool("online", online))
	for _, l := range listeners {
		l(online)
	}
}

// Run probes ProbeURL every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.probeURL == "" {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Set(m.Probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Set(m.Probe(ctx))
		}
	}
}

// Probe issues one HEAD request. Any response, whatever its status, counts as online.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Warn("network probe request", zap.Error(err))
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("network probe failed", zap.Error(err))
		return false
	}
	_ = resp.Body.Close()
	return true
}
