// Package realtime pushes risk assessments to dashboards over WebSocket.
//
// Clients connect to /ws and receive every assessment as it is made.
// A client narrows the stream by sending a Subscription as JSON:
// - Event types (assessment, transaction_flagged)
// - Sender ids to watch
// - Minimum risk tier and amount
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paykrypt/paykrypt/internal/metrics"
	"github.com/paykrypt/paykrypt/internal/risk"
)

// EventType for real-time events
type EventType string

const (
	EventAssessment         EventType = "assessment"
	EventTransactionFlagged EventType = "transaction_flagged"
)

// Event is one message on the stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000

	broadcastBuffer = 256
	clientBuffer    = 256
)

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	TotalEvents      int64 `json:"totalEvents"`
	DroppedEvents    int64 `json:"droppedEvents"`
	SlowDisconnects  int64 `json:"slowDisconnects"`
}

var _ risk.EventEmitter = (*Hub)(nil)

// Hub fans assessment events out to connected clients. All membership
// changes happen on the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	upgrader   websocket.Upgrader
	origins    []string

	totalEvents     atomic.Int64
	droppedEvents   atomic.Int64
	totalClients    atomic.Int64
	peakClients     atomic.Int64
	slowDisconnects atomic.Int64
}

// NewHub creates a new WebSocket hub. Browsers may connect from the
// server's own host or from one of allowedOrigins.
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Event, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		origins:    allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	switch {
	case origin == "":
		return true // non-browser client
	case origin == "http://"+r.Host, origin == "https://"+r.Host:
		return true
	}
	return slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin)
}

// Run owns the client set until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case event := <-h.broadcast:
			h.fanout(event)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.totalClients.Add(1)
	if int64(n) > h.peakClients.Load() {
		h.peakClients.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("client connected", "total", n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("client disconnected", "total", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send) // writePump sends a close frame
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

// fanout delivers event to every matching client. A client whose buffer is
// full is disconnected rather than allowed to stall the hub.
func (h *Hub) fanout(event *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode event", "type", event.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.subscription().Matches(event) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.slowDisconnects.Add(1)
		h.remove(c)
	}
}

// Broadcast queues an event, dropping it when the queue is full.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// EmitAssessment broadcasts a completed assessment. Flagged verdicts are
// sent as transaction_flagged events.
func (h *Hub) EmitAssessment(a *risk.Assessment) {
	eventType := EventAssessment
	if a.Verdict.Status == risk.StatusFlagged {
		eventType = EventTransactionFlagged
	}
	h.Broadcast(&Event{Type: eventType, Timestamp: a.EvaluatedAt, Data: a})
}

// Stats returns hub statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: n,
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		TotalEvents:      h.totalEvents.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
		SlowDisconnects:  h.slowDisconnects.Load(),
	}
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Stats().ConnectedClients >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
