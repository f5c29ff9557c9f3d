package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// limiterPool holds one token bucket per caller key. Entries idle longer
// than maxIdle are evicted during lookups, so a burst of one-off clients
// cannot grow the map without bound.
type limiterPool struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	perSecond rate.Limit
	burst     int
	maxIdle   time.Duration
	lastSweep time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiterPool(perSecond rate.Limit, burst int, maxIdle time.Duration) *limiterPool {
	return &limiterPool{
		entries:   make(map[string]*limiterEntry),
		perSecond: perSecond,
		burst:     burst,
		maxIdle:   maxIdle,
		lastSweep: time.Now(),
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastSweep) > p.maxIdle {
		for k, e := range p.entries {
			if now.Sub(e.seen) > p.maxIdle {
				delete(p.entries, k)
			}
		}
		p.lastSweep = now
	}

	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(p.perSecond, p.burst)}
		p.entries[key] = e
	}
	e.seen = now
	return e.lim
}

// clientKey prefers the resolved user identity so one user cannot consume
// another's quota from behind a shared proxy IP.
func clientKey(c *gin.Context) string {
	if user := userID(c); user != "" {
		return "u:" + user
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware throttles each caller to perSecond sustained requests.
func RateLimitMiddleware() gin.HandlerFunc {
	pool := newLimiterPool(rate.Limit(10), 30, 5*time.Minute)
	return func(c *gin.Context) {
		key := clientKey(c)
		if !pool.get(key).Allow() {
			log.Printf("api: rate limited %s on %s %s", key, c.Request.Method, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware tags every request with an id, reusing the caller's
// X-Request-ID when present so ids stay stable across hops.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// CORSMiddleware answers preflight and stamps the headers the dashboard needs.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware fails requests that exceed the deadline. The handler runs
// on its own goroutine so the response can be written even while it is stuck.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan any, 1)
		go func() {
			defer func() {
				done <- recover()
			}()
			c.Next()
		}()

		select {
		case p := <-done:
			if p != nil {
				log.Printf("api: panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, p)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		case <-ctx.Done():
			log.Printf("api: timeout on %s %s after %v", c.Request.Method, c.Request.URL.Path, timeout)
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
				"error": "request timeout",
			})
		}
	}
}

// RequestLogger writes one line per request with the id, caller and latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		id := c.GetString("RequestID")
		if len(id) > 8 {
			id = id[:8]
		}
		log.Printf("api: %s %s -> %d in %v (req=%s caller=%s)",
			method, path, c.Writer.Status(), time.Since(start), id, clientKey(c))
	}
}
