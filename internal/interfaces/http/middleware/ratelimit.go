package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/interfaces/http/dto"
)

// Limiter decides whether a keyed request fits in the current window.
// cache.RedisRateLimiter satisfies it for multi-instance deployments.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	Limit() int
}

// MemoryLimiter is a fixed-window limiter local to one process
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	window  time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	count int
	start time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates a limiter and starts its cleanup loop. Call Stop
// to end the loop.
func NewMemoryLimiter(limit int, win time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		clients: make(map[string]*window),
		limit:   limit,
		window:  win,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(l.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.clients {
				if now.Sub(w.start) > l.window*2 {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop ends the cleanup loop
func (l *MemoryLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Limit returns the per-window allowance
func (l *MemoryLimiter) Limit() int {
	return l.limit
}

// Allow counts one request against key
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.clients[key] = w
	}
	if w.count >= l.limit {
		return false, 0, nil
	}
	w.count++
	return true, l.limit - w.count, nil
}

// KeyFunc extracts the rate limit key from a request
type KeyFunc func(c *gin.Context) string

// ClientIPKey limits by client address
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// SubscriberOrIPKey limits authenticated callers by subscriber and the rest
// by address. It must run after RequireSession to see the subscriber.
func SubscriberOrIPKey(c *gin.Context) string {
	if id := c.GetString(logger.GinSubscriberIDKey); id != "" {
		return "sub:" + id
	}
	return ClientIPKey(c)
}

// RateLimit rejects requests over the limiter's allowance with 429. A failing
// limiter lets the request through.
func RateLimit(limiter Limiter, key KeyFunc, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, err := limiter.Allow(c.Request.Context(), key(c))
		if err != nil {
			log.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"Too many requests, please try again later",
				GetRequestID(c),
				nil,
			))
			return
		}
		c.Next()
	}
}
