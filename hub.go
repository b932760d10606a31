package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer     = 256
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 << 10
)

// subscriber is one websocket connection.
type subscriber struct {
	id   string
	send chan []byte
}

// Hub is the set of connected subscribers. Publishing never blocks: a
// subscriber whose buffer is full is dropped from the hub and its channel
// closed, so its connection ends instead of silently missing events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]*subscriber),
		logger: logger,
	}
}

// Register adds a subscriber and returns it.
func (h *Hub) Register(id string) *subscriber {
	s := &subscriber{id: id, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()
	return s
}

// Unregister removes a subscriber and closes its channel.
func (h *Hub) Unregister(s *subscriber) {
	h.mu.Lock()
	if cur, ok := h.subs[s.id]; ok && cur == s {
		delete(h.subs, s.id)
		close(s.send)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every subscriber.
func (h *Hub) Broadcast(msg []byte) {
	h.publish(msg, "")
}

// BroadcastExcept sends msg to every subscriber but the one with id.
func (h *Hub) BroadcastExcept(id string, msg []byte) {
	h.publish(msg, id)
}

func (h *Hub) publish(msg []byte, skip string) {
	// The write lock is held for the whole fan-out, so concurrent publishers
	// are serialised and every subscriber sees messages in the same order.
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.subs {
		if id == skip {
			continue
		}
		h.deliver(s, msg)
	}
}

// SendTo sends msg to one subscriber only.
func (h *Hub) SendTo(id string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		h.deliver(s, msg)
	}
}

// deliver queues msg for s, evicting s when its buffer is full. Events are
// incremental, so a subscriber that misses one can never converge; closing
// its channel makes writePump hang up and the client reconnect for a fresh
// snapshot. Callers hold the write lock.
func (h *Hub) deliver(s *subscriber, msg []byte) {
	select {
	case s.send <- msg:
	default:
		h.logger.Warn("evicting slow subscriber", zap.String("conn", s.id), zap.Int("buffered", len(s.send)))
		delete(h.subs, s.id)
		close(s.send)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// writePump copies queued messages to the connection and keeps it alive with
// pings. It returns when the subscriber is unregistered or a write fails.
func writePump(conn *websocket.Conn, s *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection too slow"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
