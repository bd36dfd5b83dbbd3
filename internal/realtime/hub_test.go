package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paykrypt/paykrypt/internal/risk"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func assessment(sender string, amount float64, score risk.Score, status risk.Status) *risk.Assessment {
	return &risk.Assessment{
		ID:       "risk_1",
		SenderID: sender,
		Amount:   amount,
		Verdict: risk.Verdict{
			TransactionID: "tx_1",
			RiskScore:     score,
			Status:        status,
		},
		EvaluatedAt: time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Subscription tests
// ---------------------------------------------------------------------------

func TestSubscription_AllEvents(t *testing.T) {
	sub := Subscription{AllEvents: true, SenderIDs: []string{"nobody"}}

	event := &Event{Type: EventAssessment, Data: assessment("1", 10, risk.ScoreLow, risk.StatusCompleted)}
	assert.True(t, sub.Matches(event), "AllEvents overrides other filters")
}

func TestSubscription_EventTypeFilter(t *testing.T) {
	sub := Subscription{EventTypes: []EventType{EventTransactionFlagged}}

	assert.False(t, sub.Matches(&Event{Type: EventAssessment}))
	assert.True(t, sub.Matches(&Event{Type: EventTransactionFlagged}))
}

func TestSubscription_SenderFilter(t *testing.T) {
	sub := Subscription{SenderIDs: []string{"7"}}

	assert.True(t, sub.Matches(&Event{Type: EventAssessment, Data: assessment("7", 10, risk.ScoreLow, risk.StatusCompleted)}))
	assert.False(t, sub.Matches(&Event{Type: EventAssessment, Data: assessment("8", 10, risk.ScoreLow, risk.StatusCompleted)}))
}

func TestSubscription_MinRiskFilter(t *testing.T) {
	sub := Subscription{MinRisk: risk.ScoreMedium}

	tests := []struct {
		score risk.Score
		want  bool
	}{
		{risk.ScoreLow, false},
		{risk.ScoreMedium, true},
		{risk.ScoreHigh, true},
	}
	for _, tc := range tests {
		event := &Event{Type: EventAssessment, Data: assessment("1", 10, tc.score, risk.StatusPending)}
		assert.Equal(t, tc.want, sub.Matches(event), tc.score)
	}
}

func TestSubscription_MinAmountFilter(t *testing.T) {
	sub := Subscription{MinAmount: 100}

	assert.True(t, sub.Matches(&Event{Type: EventAssessment, Data: assessment("1", 150, risk.ScoreLow, risk.StatusCompleted)}))
	assert.False(t, sub.Matches(&Event{Type: EventAssessment, Data: assessment("1", 50, risk.ScoreLow, risk.StatusCompleted)}))
}

func TestSubscription_NonAssessmentData(t *testing.T) {
	sub := Subscription{SenderIDs: []string{"1"}}

	assert.True(t, sub.Matches(&Event{Type: EventAssessment, Data: "opaque"}),
		"payload filters pass through data they cannot inspect")
}

func TestParseSubscription(t *testing.T) {
	sub, ok := parseSubscription([]byte(`{"senderIds":["7"],"minRisk":"MEDIUM"}`))
	require.True(t, ok)
	assert.Equal(t, []string{"7"}, sub.SenderIDs)
	assert.Equal(t, risk.ScoreMedium, sub.MinRisk)

	_, ok = parseSubscription([]byte(`{"minRisk":"SEVERE"}`))
	assert.False(t, ok, "unknown tier")

	_, ok = parseSubscription([]byte(`not json`))
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func registerClient(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	client := &Client{hub: h, send: make(chan []byte, 256), sub: sub}
	h.register <- client
	require.Eventually(t, func() bool {
		return h.Stats().ConnectedClients >= 1
	}, time.Second, 5*time.Millisecond)
	return client
}

func TestHub_Stats_Initial(t *testing.T) {
	stats := testHub().Stats()
	assert.Zero(t, stats.ConnectedClients)
	assert.Zero(t, stats.TotalEvents)
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := startHub(t)
	client := registerClient(t, h, Subscription{AllEvents: true})

	assert.Equal(t, int64(1), h.Stats().PeakClients)

	h.unregister <- client
	require.Eventually(t, func() bool {
		return h.Stats().ConnectedClients == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().PeakClients, "peak is retained")
}

func TestHub_EmitAssessment(t *testing.T) {
	h := startHub(t)
	client := registerClient(t, h, Subscription{AllEvents: true})

	h.EmitAssessment(assessment("1", 500, risk.ScoreHigh, risk.StatusFlagged))

	select {
	case msg := <-client.send:
		var event struct {
			Type EventType       `json:"type"`
			Data risk.Assessment `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, EventTransactionFlagged, event.Type)
		assert.Equal(t, "1", event.Data.SenderID)
		assert.Equal(t, risk.ScoreHigh, event.Data.Verdict.RiskScore)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := startHub(t)
	client := registerClient(t, h, Subscription{EventTypes: []EventType{EventTransactionFlagged}})

	h.EmitAssessment(assessment("1", 10, risk.ScoreLow, risk.StatusCompleted))
	h.EmitAssessment(assessment("2", 900, risk.ScoreHigh, risk.StatusFlagged))

	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), `"type":"transaction_flagged"`)
		assert.Contains(t, string(msg), `"senderId":"2"`)
	case <-time.After(time.Second):
		t.Fatal("client should receive the flagged event")
	}

	select {
	case msg := <-client.send:
		t.Errorf("unexpected extra event: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	h := startHub(t)
	slow := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.register <- slow

	h.EmitAssessment(assessment("1", 10, risk.ScoreLow, risk.StatusCompleted))

	require.Eventually(t, func() bool {
		return h.Stats().SlowDisconnects == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.Stats().ConnectedClients)

	_, open := <-slow.send
	assert.False(t, open, "send channel closed on disconnect")
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	h := testHub() // not running, so nothing drains the queue
	for range broadcastBuffer + 3 {
		h.Broadcast(&Event{Type: EventAssessment})
	}
	assert.Equal(t, int64(3), h.Stats().DroppedEvents)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHub_WebSocketSubscription(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(Subscription{SenderIDs: []string{"42"}}))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			c.mu.RLock()
			applied := len(c.sub.SenderIDs) == 1
			c.mu.RUnlock()
			if applied {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	h.EmitAssessment(assessment("1", 10, risk.ScoreLow, risk.StatusCompleted))
	h.EmitAssessment(assessment("42", 10, risk.ScoreLow, risk.StatusCompleted))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"senderId":"42"`)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), "https://dash.example.com")

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://api.local", true},
		{"https://dash.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://api.local/ws", nil)
		r.Host = "api.local"
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, h.checkOrigin(r), tc.origin)
	}
}
