package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, rpm, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour, IdleTTL: time.Minute})
	l.now = clock.Now
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("ip"), "request %d is within burst", i)
	}
	assert.False(t, l.Allow("ip"), "request after burst is denied")

	// 60/min refills one token per second
	clock.Advance(time.Second)
	assert.True(t, l.Allow("ip"))
	assert.False(t, l.Allow("ip"))
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"), "clients have independent buckets")
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 1)

	l.Allow("idle")
	clock.Advance(2 * time.Minute)
	l.Allow("active")
	l.evictIdle()

	l.mu.Lock()
	_, idle := l.clients["idle"]
	_, active := l.clients["active"]
	l.mu.Unlock()
	assert.False(t, idle)
	assert.True(t, active)
}

func TestLimiterStopIsIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, 60, 2)

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	var last *httptest.ResponseRecorder
	for i := range codes {
		last = httptest.NewRecorder()
		r.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes[i] = last.Code
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	require.Equal(t, "1", last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "rate_limit_exceeded")
}
