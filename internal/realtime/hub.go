// Package realtime streams platform events to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/audit"
	"github.com/gongahkia/singhacks-hackathon-2025-sub001/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the dashboard origin; agents connect
	// server-to-server with no origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connected subscriber.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics []string // empty = all topics
}

func (c *client) wants(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, t := range c.topics {
		if t == topic || strings.HasPrefix(topic, t+".") {
			return true
		}
	}
	return false
}

// Hub fans events out to subscribers. Slow clients are disconnected rather
// than allowed to backpressure the hub.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends an event to every subscriber interested in its topic.
func (h *Hub) Publish(topic string, payload interface{}) {
	msg, err := json.Marshal(map[string]interface{}{
		"topic":   topic,
		"payload": payload,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Warn("realtime marshal failed", "topic", topic, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Drop for this client; the write pump will notice the
			// closed channel on disconnect.
		}
	}
}

// Append lets the hub double as an audit sink, so every audited event is
// also streamed live.
func (h *Hub) Append(ctx context.Context, event audit.Event) error {
	h.Publish(event.Topic, event.Payload)
	return nil
}

// ServeWS handles GET /ws. Topics are selected with ?topics=escrow,feedback.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var topics []string
	if q := c.Query("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	cl := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: topics,
	}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	metrics.RealtimeClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
		metrics.RealtimeClients.Set(float64(len(h.clients)))
	}
	h.mu.Unlock()
}

// readPump discards inbound messages; the stream is one-way. It exists to
// process pongs and detect disconnects.
func (h *Hub) readPump(cl *client) {
	defer func() {
		h.remove(cl)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
