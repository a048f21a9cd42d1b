package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-market-trends/pkg/metrics"
)

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients *xsync.MapOf[string, *client]
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: xsync.NewMapOf[string, *client](),
		now:     time.Now,
	}
}

// Enabled reports whether the limiter rejects anything.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.limit > 0
}

// Allow takes a token for ip.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.Enabled() {
		return true
	}
	c, _ := rl.clients.LoadOrCompute(ip, func() *client {
		return &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	})
	now := rl.now()
	c.lastSeen.Store(now.UnixNano())
	return c.limiter.AllowN(now, 1)
}

// Clients returns how many client buckets are tracked.
func (rl *RateLimiter) Clients() int {
	return rl.clients.Size()
}

// Prune drops buckets not used for idle.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	cutoff := rl.now().Add(-idle).UnixNano()
	removed := 0
	rl.clients.Range(func(ip string, c *client) bool {
		if c.lastSeen.Load() < cutoff {
			rl.clients.Delete(ip)
			removed++
		}
		return true
	})
	return removed
}

// Run prunes idle buckets every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(idle)
		}
	}
}

// RateLimit rejects requests over the client's budget with 429.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
				Error: errorDetail{Message: "rate limit exceeded", Kind: "rate_limited"},
			})
			return
		}
		c.Next()
	}
}

// Metrics records every request against its route pattern.
func Metrics(rec metrics.Recorder) gin.HandlerFunc {
	rec = metrics.OrNop(rec)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// Logger logs one line per request.
func Logger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"latency", time.Since(start),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Err)
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Warnw("http request failed", fields...)
		default:
			logger.Debugw("http request", fields...)
		}
	}
}
