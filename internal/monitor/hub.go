// Package monitor broadcasts stream events to websocket clients.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

const (
	// clientBuffer is the number of pending messages per client before drops
	clientBuffer = 64
	writeTimeout = 2 * time.Second
)

// Message is the JSON document pushed to clients
type Message struct {
	Kind    vcam.EventKind `json:"kind"`
	Stream  string         `json:"stream"`
	Detail  string         `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
	Seq     uint64         `json:"seq,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	connected time.Time
	dropped   atomic.Uint64
}

// Hub manages websocket clients and fans out events to them
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	closed   bool
	upgrader websocket.Upgrader

	// Stats
	messagesSent    atomic.Uint64
	messagesDropped atomic.Uint64
}

var _ vcam.EventSink = (*Hub)(nil)

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Read-only diagnostics feed
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("monitor: websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, clientBuffer),
		connected: time.Now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("monitor: client connected", "client_id", c.id, "remote", r.RemoteAddr, "clients", count)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client input and unregisters the client on error
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("monitor: write failed", "client_id", c.id, "error", err)
			return
		}
		h.messagesSent.Add(1)
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor closed"))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		slog.Info("monitor: client disconnected",
			"client_id", c.id,
			"clients", count,
			"dropped", c.dropped.Load(),
		)
	}
}

// Publish broadcasts ev to every client without blocking.
// A client whose buffer is full loses the message.
func (h *Hub) Publish(ev vcam.Event) {
	msg := Message{
		Kind:   ev.Kind,
		Stream: ev.Stream,
		Detail: ev.Detail,
		At:     ev.At,
	}
	if ev.Sample != nil {
		msg.Seq = ev.Sample.Seq
		msg.TraceID = ev.Sample.TraceID
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("monitor: marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			c.dropped.Add(1)
			h.messagesDropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats contains hub statistics
type Stats struct {
	Clients         int    `json:"clients"`
	MessagesSent    uint64 `json:"messages_sent"`
	MessagesDropped uint64 `json:"messages_dropped"`
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:         h.ClientCount(),
		MessagesSent:    h.messagesSent.Load(),
		MessagesDropped: h.messagesDropped.Load(),
	}
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// Serve exposes the hub on addr at path (plus /stats) until ctx is done
func (h *Hub) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, h)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.Stats())
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("monitor: listening", "addr", addr, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	h.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
