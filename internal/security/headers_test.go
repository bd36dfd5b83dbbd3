package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/v1/risk/flagged", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func TestHeadersMiddleware(t *testing.T) {
	router := newRouter(HeadersMiddleware())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/risk/flagged", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		wantOrigin     bool
		wantCreds      bool
	}{
		{"allowed origin", []string{"https://dash.paykrypt.dev"}, "https://dash.paykrypt.dev", true, true},
		{"trailing slash in config", []string{"https://dash.paykrypt.dev/"}, "https://dash.paykrypt.dev", true, true},
		{"wildcard allows all", []string{"*"}, "https://anything.com", true, false},
		{"empty list allows all", nil, "https://anything.com", true, false},
		{"disallowed origin", []string{"https://dash.paykrypt.dev"}, "https://evil.com", false, false},
		{"no origin header", []string{"*"}, "", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(CORSMiddleware(tc.allowedOrigins))

			req := httptest.NewRequest(http.MethodGet, "/v1/risk/flagged", nil)
			if tc.requestOrigin != "" {
				req.Header.Set("Origin", tc.requestOrigin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin") != "")
			assert.Equal(t, tc.wantCreds, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newRouter(CORSMiddleware([]string{"*"}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/risk/flagged", nil)
	req.Header.Set("Origin", "https://dash.paykrypt.dev")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
