package transactions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paykrypt/paykrypt/internal/pagination"
	"github.com/paykrypt/paykrypt/internal/risk"
)

func newHandlerRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	for i, id := range []string{"tx-h1", "tx-h2", "tx-h3"} {
		tx := newTx(id, "1", "2", 100, time.Duration(i+1)*time.Hour)
		tx.Location = risk.StringPtr("New York, USA")
		tx.DeviceID = risk.StringPtr("iPhone 13")
		require.NoError(t, store.Create(context.Background(), &tx))
	}

	engine := risk.NewEngine(nil).WithHistorySource(store)
	h := NewHandler(store, engine)
	h.now = func() time.Time { return baseTime }

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, store
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

type paymentResponse struct {
	Error       string           `json:"error"`
	Transaction risk.Transaction `json:"transaction"`
	Verdict     risk.Verdict     `json:"verdict"`
}

func TestCreatePayment_Accepted(t *testing.T) {
	r, store := newHandlerRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/payments", `{
		"senderId": "1", "receiverId": "2", "senderAccountId": "101",
		"amount": 120, "description": "Groceries", "category": "Food",
		"location": "New York, USA", "deviceId": "iPhone 13"
	}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp paymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, risk.ScoreLow, resp.Verdict.RiskScore)
	assert.Equal(t, risk.StatusCompleted, resp.Transaction.Status)
	assert.True(t, strings.HasPrefix(resp.Transaction.ID, "tx_"))
	assert.Equal(t, resp.Transaction.ID, resp.Verdict.TransactionID)

	stored, err := store.Get(context.Background(), resp.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, risk.ScoreLow, stored.RiskScore)
	assert.Equal(t, baseTime, stored.CreatedAt)
}

func TestCreatePayment_NewUserIsPending(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/payments", `{"senderId": "42", "senderAccountId": "4201", "amount": 30}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp paymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, risk.ScoreMedium, resp.Verdict.RiskScore)
	assert.Equal(t, risk.StatusPending, resp.Transaction.Status)
}

func TestCreatePayment_Blocked(t *testing.T) {
	r, store := newHandlerRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/payments", `{
		"senderId": "1", "receiverId": "2", "senderAccountId": "101", "amount": 400,
		"location": "New York, USA", "deviceId": "iPhone 13"
	}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp paymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "payment_blocked", resp.Error)
	assert.Equal(t, risk.ScoreHigh, resp.Verdict.RiskScore)
	assert.True(t, resp.Verdict.Blocked())

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3, "blocked payments are not stored")
}

func TestCreatePayment_ConcurrentSameSender(t *testing.T) {
	r, _ := newHandlerRouter(t)

	// Each payment must see the other in the sender's history, so only one
	// of them can be treated as the first transaction.
	results := make(chan paymentResponse, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := doJSON(r, http.MethodPost, "/v1/payments", `{"senderId": "77", "senderAccountId": "7701", "amount": 30}`)
			var resp paymentResponse
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			results <- resp
		}()
	}
	wg.Wait()
	close(results)

	statuses := map[risk.Status]int{}
	for resp := range results {
		statuses[resp.Transaction.Status]++
	}
	assert.Equal(t, map[risk.Status]int{risk.StatusPending: 1, risk.StatusCompleted: 1}, statuses)
}

func TestCreatePayment_Invalid(t *testing.T) {
	r, _ := newHandlerRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"senderId": `},
		{"missing sender", `{"senderAccountId": "101", "amount": 10}`},
		{"zero amount", `{"senderId": "1", "senderAccountId": "101", "amount": 0}`},
		{"bad receiver", `{"senderId": "1", "senderAccountId": "101", "receiverId": "a b", "amount": 5}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/v1/payments", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListTransactions_Paginates(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w := doJSON(r, http.MethodGet, "/v1/transactions?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page pagination.Page[risk.Transaction]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "tx-h1", page.Items[0].ID)

	w = doJSON(r, http.MethodGet, "/v1/transactions?limit=2&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	var next pagination.Page[risk.Transaction]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	require.Len(t, next.Items, 1)
	assert.False(t, next.HasMore)
	assert.Equal(t, "tx-h3", next.Items[0].ID)

	w = doJSON(r, http.MethodGet, "/v1/transactions?cursor=!!!", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransaction(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w := doJSON(r, http.MethodGet, "/v1/transactions/tx-h2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"tx-h2"`)

	w = doJSON(r, http.MethodGet, "/v1/transactions/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListByUser(t *testing.T) {
	r, _ := newHandlerRouter(t)

	w := doJSON(r, http.MethodGet, "/v1/users/2/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Transactions []risk.Transaction `json:"transactions"`
		Count        int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)

	w = doJSON(r, http.MethodGet, "/v1/users/nobody/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}
