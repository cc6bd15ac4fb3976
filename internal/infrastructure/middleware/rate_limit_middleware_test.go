package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamgrid/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func newTestRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewHTTPRateLimitMiddleware(cfg))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doRequest(r *gin.Engine, remoteIP, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remoteIP + ":40000"
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestHTTPRateLimit_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	r := newTestRouter(cfg)

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1", ""))
	}
}

func TestHTTPRateLimit_BurstThenRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 2
	r := newTestRouter(cfg)

	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1", ""))
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.1", ""))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, "10.0.0.1", ""))

	// Another client spends its own budget.
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.2", ""))
}

func TestHTTPRateLimit_KeysOnForwardedFor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	r := newTestRouter(cfg)

	// Same proxy address, distinct forwarded clients.
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.9", "203.0.113.7"))
	assert.Equal(t, http.StatusOK, doRequest(r, "10.0.0.9", "203.0.113.8"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, "10.0.0.9", "203.0.113.7"))
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name         string
		remoteAddr   string
		forwardedFor string
		want         string
	}{
		{"remote addr only", "192.0.2.1:5000", "", "192.0.2.1"},
		{"single forwarded hop", "10.0.0.1:5000", "203.0.113.7", "203.0.113.7"},
		{"first of forwarded chain", "10.0.0.1:5000", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"garbage forwarded falls back", "192.0.2.1:5000", "not-an-ip", "192.0.2.1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tc.forwardedFor)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}

func TestVisitorStore_EvictsIdleEntries(t *testing.T) {
	store := newVisitorStore(rate.Limit(100), 100, time.Minute)
	store.allow("stale")

	// Age the entry and the sweep clock past the idle window.
	store.mu.Lock()
	store.visitors["stale"].lastSeen = time.Now().Add(-2 * time.Minute)
	store.lastSweep = time.Now().Add(-2 * time.Minute)
	store.mu.Unlock()

	store.allow("fresh")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.visitors, "stale")
	assert.Contains(t, store.visitors, "fresh")
}
