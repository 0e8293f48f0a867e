package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexcodex/codeforge/framework"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientQueueLen = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventHub fans telemetry events out to WebSocket subscribers. It is a
// telemetry sink: Emit never blocks, and a subscriber that falls behind
// loses events rather than slowing the pipeline.
type EventHub struct {
	Logger *slog.Logger

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	send  chan framework.Event
	runID string
}

// NewEventHub returns an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{Logger: logger, clients: map[*subscriber]struct{}{}}
}

func (h *EventHub) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Emit queues event for every subscriber interested in its run.
func (h *EventHub) Emit(event framework.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.runID != "" && c.runID != event.RunID {
			continue
		}
		select {
		case c.send <- event:
		default:
			h.logger().Debug("event subscriber lagging, dropping event", "event", string(event.Type))
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *EventHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventHub) register(runID string) *subscriber {
	c := &subscriber{send: make(chan framework.Event, clientQueueLen), runID: runID}
	h.mu.Lock()
	if h.clients == nil {
		h.clients = map[*subscriber]struct{}{}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *EventHub) unregister(c *subscriber) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events as JSON text frames.
// The optional run query parameter limits the stream to one run.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", "error", err)
		return
	}
	c := h.register(r.URL.Query().Get("run"))
	h.logger().Info("event subscriber connected", "remote", r.RemoteAddr, "run", c.runID)
	defer func() {
		h.unregister(c)
		conn.Close()
		h.logger().Info("event subscriber disconnected", "remote", r.RemoteAddr)
	}()

	// Subscribers only listen; the read loop exists to notice closes and
	// answer pings.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger().Warn("failed to write websocket event", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
