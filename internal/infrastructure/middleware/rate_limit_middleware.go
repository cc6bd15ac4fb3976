package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"streamgrid/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitor pairs a limiter with the last time its client was seen, so the
// store can evict idle entries instead of growing by one for every IP
// that ever hit the API.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitorStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
}

func newVisitorStore(r rate.Limit, burst int, idleAfter time.Duration) *visitorStore {
	return &visitorStore{
		visitors:  make(map[string]*visitor),
		rate:      r,
		burst:     burst,
		idleAfter: idleAfter,
		lastSweep: time.Now(),
	}
}

// allow consumes one token from the client's limiter, creating it on
// first sight. Idle entries are swept at most once per idle window.
func (s *visitorStore) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) >= s.idleAfter {
		s.sweepLocked(now)
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

func (s *visitorStore) sweepLocked(now time.Time) {
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.idleAfter {
			delete(s.visitors, key)
		}
	}
	s.lastSweep = now
}

// clientIP resolves the client key: the first hop of X-Forwarded-For when
// it parses as an address, otherwise the connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware returns gin middleware enforcing a global
// concurrency cap and a per-client token bucket on the REST surface. The
// websocket path carries its own per-connection message limiter; this one
// guards the stateless endpoints.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newVisitorStore(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
		3*time.Minute,
	)

	var sem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if sem != nil {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if !store.allow(clientIP(c.Request)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
