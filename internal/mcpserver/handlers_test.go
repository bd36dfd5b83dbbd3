package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paykrypt/paykrypt/internal/retry"
	"github.com/paykrypt/paykrypt/internal/risk"
	"github.com/paykrypt/paykrypt/internal/riskclient"
)

// --- Test helpers ---

func newTestHandlers(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(testClient(t, ts.URL))
}

func testClient(t *testing.T, apiURL string) *riskclient.Client {
	t.Helper()
	cfg := riskclient.DefaultConfig(apiURL)
	cfg.Retry = retry.Policy{Attempts: 2, BaseDelay: time.Millisecond}
	cfg.Timeout = 2 * time.Second
	client, err := riskclient.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// assess_transaction
// ============================================================

func TestHandleAssessTransaction(t *testing.T) {
	var got risk.AssessPayload
	h := newTestHandlers(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/risk/assess", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(risk.AssessResponse{Success: true, UpdatedTransaction: risk.Verdict{
			TransactionID:  got.CurrentTransaction.ID,
			RiskScore:      risk.ScoreHigh,
			RiskFactors:    []string{"Amount 5.0x higher than user average", "Transaction from unknown device"},
			Status:         risk.StatusFlagged,
			Recommendation: "Transaction amount significantly exceeds user's typical spending pattern",
		}})
	}))

	result, err := h.HandleAssessTransaction(context.Background(), makeRequest(map[string]any{
		"sender_id":   "1",
		"receiver_id": "4",
		"amount":      500.0,
		"device_id":   "Unknown Device",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.NotNil(t, got.CurrentTransaction)
	assert.Equal(t, "1", got.CurrentTransaction.SenderID)
	assert.Equal(t, 500.0, got.CurrentTransaction.Amount)
	require.NotNil(t, got.CurrentTransaction.DeviceID)
	assert.Equal(t, "Unknown Device", *got.CurrentTransaction.DeviceID)
	assert.Nil(t, got.CurrentTransaction.Location, "empty arguments stay absent")
	assert.Nil(t, got.TransactionHistory)

	text := resultText(t, result)
	assert.Contains(t, text, "Risk: HIGH")
	assert.Contains(t, text, "Status: FLAGGED")
	assert.Contains(t, text, "  - Transaction from unknown device")
	assert.Contains(t, text, "Do not send this payment")
}

func TestHandleAssessTransaction_ServiceDownGivesFallback(t *testing.T) {
	h := newTestHandlers(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	result, err := h.HandleAssessTransaction(context.Background(), makeRequest(map[string]any{
		"sender_id": "1",
		"amount":    50.0,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, "the fallback verdict is still a result")

	text := resultText(t, result)
	assert.Contains(t, text, "Risk: MEDIUM")
	assert.Contains(t, text, "Status: PENDING")
	assert.Contains(t, text, riskclient.FallbackFactor)
	assert.Contains(t, text, "could not be reached")
}

func TestHandleAssessTransaction_Validation(t *testing.T) {
	h := newTestHandlers(t, http.NotFoundHandler())

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing sender", map[string]any{"amount": 10.0}, "sender_id is required"},
		{"missing amount", map[string]any{"sender_id": "1"}, "amount must be a positive number"},
		{"negative amount", map[string]any{"sender_id": "1", "amount": -5.0}, "amount must be a positive number"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := h.HandleAssessTransaction(context.Background(), makeRequest(tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tc.want)
		})
	}
}

// ============================================================
// get_user_reputation
// ============================================================

func TestHandleGetUserReputation(t *testing.T) {
	h := newTestHandlers(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/3/reputation", r.URL.Path)
		_, _ = w.Write([]byte(`{"reputation":{"userId":"3","tier":"bad","flaggedRatio":0.25,"highRiskRatio":0.125,
			"metrics":{"totalTransactions":8,"flaggedTransactions":2,"highRiskTransactions":1}}}`))
	}))

	result, err := h.HandleGetUserReputation(context.Background(), makeRequest(map[string]any{"user_id": "3"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "User: 3")
	assert.Contains(t, text, "Tier: bad")
	assert.Contains(t, text, "Flagged: 2 (25%)")
}

func TestHandleGetUserReputation_MissingUser(t *testing.T) {
	h := newTestHandlers(t, http.NotFoundHandler())

	result, err := h.HandleGetUserReputation(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user_id is required")
}

// ============================================================
// get_risk_overview
// ============================================================

func TestHandleGetRiskOverview(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/admin/metrics", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalUsers":4,"totalTransactions":26,"flaggedTransactions":3,"totalVolume":"10450.5",
			"riskDistribution":{"low":18,"medium":5,"high":3},
			"categories":[{"name":"Shopping","count":7,"volume":"1200"}],
			"userActivity":[{"userId":"1","transactions":12,"flagged":1,"sent":"0","received":"0"}]}`))
	})
	mux.HandleFunc("/v1/risk/flagged", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"assessments":[{"id":"risk_1","senderId":"2","amount":2500,
			"verdict":{"transactionId":"tx_9","riskScore":"HIGH","riskFactors":["Amount 8.3x higher than user average"],"status":"FLAGGED","recommendation":"r"}}],"count":1}`))
	})
	h := newTestHandlers(t, mux)

	result, err := h.HandleGetRiskOverview(context.Background(), makeRequest(map[string]any{"flagged_limit": 2.0}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Transactions: 26 (3 flagged)")
	assert.Contains(t, text, "Volume: $10450.50")
	assert.Contains(t, text, "Risk: 18 low / 5 medium / 3 high")
	assert.Contains(t, text, "Shopping: 7 ($1200.00)")
	assert.Contains(t, text, "1: 12 transactions, 1 flagged")
	assert.Contains(t, text, "1. tx_9 from 2, $2500.00")
}

func TestHandleGetRiskOverview_NoFlagged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/admin/metrics", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalVolume":"0","riskDistribution":{}}`))
	})
	mux.HandleFunc("/v1/risk/flagged", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"assessments":[],"count":0}`))
	})
	h := newTestHandlers(t, mux)

	result, err := h.HandleGetRiskOverview(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No flagged assessments.")
}

// ============================================================
// Server wiring
// ============================================================

func TestNewMCPServer(t *testing.T) {
	s, err := NewMCPServer(Config{APIURL: "http://localhost:8080"}, nil)
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = NewMCPServer(Config{APIURL: "localhost:8080"}, nil)
	assert.Error(t, err, "URL without scheme is rejected")
}

// Handlers report failures in result.IsError, never as a Go error.
func TestHandlers_NeverReturnGoError(t *testing.T) {
	h := NewHandlers(testClient(t, "http://127.0.0.1:1"))

	tests := []struct {
		name string
		fn   func() (*mcp.CallToolResult, error)
	}{
		{"GetUserReputation", func() (*mcp.CallToolResult, error) {
			return h.HandleGetUserReputation(context.Background(), makeRequest(map[string]any{"user_id": "1"}))
		}},
		{"GetRiskOverview", func() (*mcp.CallToolResult, error) {
			return h.HandleGetRiskOverview(context.Background(), makeRequest(nil))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.fn()
			assert.NoError(t, err)
			require.NotNil(t, result)
			assert.True(t, result.IsError, "unreachable server should produce isError result")
		})
	}
}
