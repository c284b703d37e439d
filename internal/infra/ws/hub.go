// Package ws streams activity events to WebSocket clients.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/emitter"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// SinkRegistry is where connected clients register as broadcast sinks.
type SinkRegistry interface {
	AddSink(s emitter.Sink) error
	RemoveSink(name string) bool
}

// Hub upgrades HTTP requests and registers each connection as a sink.
// Clients only receive; every event is one JSON text message, with no acks.
type Hub struct {
	sinks    SinkRegistry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client
	log     *slog.Logger
}

// NewHub creates a hub registering clients with sinks.
func NewHub(sinks SinkRegistry) *Hub {
	return &Hub{
		sinks: sinks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
		log:     slog.Default().With("component", "ws"),
	}
}

// ServeHTTP handles GET /ws.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		done: make(chan struct{}),
	}
	if err := h.sinks.AddSink(c); err != nil {
		h.log.Warn("Rejecting WebSocket client", "error", err)
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("WebSocket client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.readLoop()
	go c.pingLoop()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) forget(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// Client is one WebSocket connection acting as a broadcast sink.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) Name() string { return "ws:" + c.id }

// Send writes event as a JSON text message.
func (c *Client) Send(ctx context.Context, event *domain.ActivityEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write to client %s: %w", c.id, err)
	}
	return nil
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.forget(c)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
		c.hub.log.Info("WebSocket client disconnected", "client", c.id)
	})
	return err
}

// readLoop discards client messages and unregisters the sink once the peer goes away.
func (c *Client) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	// the dispatcher closes the sink once its queue drains
	c.hub.sinks.RemoveSink(c.Name())
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.hub.sinks.RemoveSink(c.Name())
				return
			}
		}
	}
}
