package app

import (
	"encoding/json"
	"sync"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// Emitter 送出 event 給指定連線
type Emitter interface {
	Emit(connectionIDs []string, event domain.Event, payload interface{})
}

// Connection hub 內的一條連線, write pump 從 Send() 取 frame
type Connection struct {
	ID   string
	send chan []byte
}

// Send write pump 讀取的 channel, Unregister 後關閉
func (c *Connection) Send() <-chan []byte {
	return c.send
}

// Hub connection id → Connection
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	bufferSize int
}

var _ Emitter = (*Hub)(nil)

// NewHub create Hub, bufferSize 為每條連線的 send buffer
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		conns:      make(map[string]*Connection),
		bufferSize: bufferSize,
	}
}

// Register 加入連線
func (h *Hub) Register(id string) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.conns[id]; ok {
		close(old.send)
	}
	c := &Connection{ID: id, send: make(chan []byte, h.bufferSize)}
	h.conns[id] = c
	return c
}

// Unregister 移除連線並關閉 send channel
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[id]; ok {
		close(c.send)
		delete(h.conns, id)
	}
}

// Count 目前連線數
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Emit marshal 一次後送給每條連線, buffer 滿時直接丟棄 (at-most-once)
func (h *Hub) Emit(connectionIDs []string, event domain.Event, payload interface{}) {
	if len(connectionIDs) == 0 {
		return
	}

	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		logger.Log.Error("marshal payload", zap.String("event", string(event)), zap.Error(err))
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		logger.Log.Error("marshal envelope", zap.String("event", string(event)), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range connectionIDs {
		c, ok := h.conns[id]
		if !ok {
			continue
		}
		select {
		case c.send <- frame:
		default:
			logger.Log.Warn("send buffer full, drop frame",
				zap.String("connectionID", id),
				zap.String("event", string(event)))
		}
	}
}
