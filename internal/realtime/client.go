package realtime

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paykrypt/paykrypt/internal/risk"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	maxReadBytes = 64 * 1024
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Subscription filters what a client receives. The zero value matches every event.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	SenderIDs  []string    `json:"senderIds"`
	MinRisk    risk.Score  `json:"minRisk"`
	MinAmount  float64     `json:"minAmount"`
}

// Matches reports whether event passes the subscription's filters. Sender,
// risk and amount filters only apply to assessment payloads.
func (s Subscription) Matches(event *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, event.Type) {
		return false
	}

	a, ok := event.Data.(*risk.Assessment)
	if !ok {
		return true
	}
	if len(s.SenderIDs) > 0 && !slices.Contains(s.SenderIDs, a.SenderID) {
		return false
	}
	if s.MinRisk != "" && a.Verdict.RiskScore.Rank() < s.MinRisk.Rank() {
		return false
	}
	return s.MinAmount <= 0 || a.Amount >= s.MinAmount
}

// parseSubscription rejects messages that are not a subscription or name an
// unknown risk tier.
func parseSubscription(msg []byte) (Subscription, bool) {
	var sub Subscription
	if err := json.Unmarshal(msg, &sub); err != nil {
		return Subscription{}, false
	}
	if sub.MinRisk != "" {
		score, ok := risk.ParseScore(string(sub.MinRisk))
		if !ok {
			return Subscription{}, false
		}
		sub.MinRisk = score
	}
	return sub, true
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
		sub:  Subscription{AllEvents: true},
	}
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *Client) subscribe(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// readPump applies subscription updates until the connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		if sub, ok := parseSubscription(msg); ok {
			c.subscribe(sub)
		}
	}
}

// writePump drains send and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
