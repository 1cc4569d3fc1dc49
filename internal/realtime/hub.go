package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// RedisPublisher publishes library events for other instances.
type RedisPublisher interface {
	PublishLibraryEvent(event string, payload []byte) error
}

// RedisSubscriber delivers library events published by any instance, this one included.
type RedisSubscriber interface {
	SubscribeLibrary(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains the connected library clients and broadcasts recording events to them.
// With Redis configured, events go through pub/sub so every instance delivers them exactly once.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	redis   RedisPublisher
}

// NewHub creates a hub. redisPub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		redis:   redisPub,
	}
}

// Start relays events from sub to the local clients until cancel is called.
func (h *Hub) Start(sub RedisSubscriber) (cancel func(), err error) {
	return sub.SubscribeLibrary(func(event string, payload []byte) {
		h.Broadcast(event, json.RawMessage(payload))
	})
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("library client joined", zap.String("client_id", c.ID), zap.Int("clients", count))
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("library client left", zap.String("client_id", c.ID), zap.Int("clients", count))
}

// Count returns the number of connected library clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every local client. Slow clients miss the message.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Warn("encode library event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers an event to the library clients of every instance. Without Redis, or when publishing
// fails, only local clients receive it.
func (h *Hub) Publish(event string, payload any) {
	if h.redis == nil {
		h.Broadcast(event, payload)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("encode library event", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.redis.PublishLibraryEvent(event, data); err != nil {
		h.logger.Warn("publish library event", zap.String("event", event), zap.Error(err))
		h.Broadcast(event, json.RawMessage(data))
	}
}

func newMessage(event string, payload interface{}) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return WSMessage{}, err
		}
	}
	return WSMessage{Event: event, Data: data}, nil
}
