package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/celestialseal/server/pkg/apierror"
)

// Limiter decides whether a request identified by key may proceed.
// retryAfter is only meaningful when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket kept in process memory
type MemoryLimiter struct {
	rpm     int
	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewMemoryLimiter allows rpm requests per minute per key with bursts up to rpm
func NewMemoryLimiter(rpm int) *MemoryLimiter {
	if rpm <= 0 {
		rpm = 10
	}
	return &MemoryLimiter{
		rpm:     rpm,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, ok := m.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.rpm)), m.rpm)}
		m.clients[key] = c
	}
	c.lastSeen = now
	m.gcLocked(now)

	r := c.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// gcLocked drops idle keys once the map grows large
func (m *MemoryLimiter) gcLocked(now time.Time) {
	if len(m.clients) < 1000 {
		return
	}
	cutoff := now.Add(-10 * time.Minute)
	for key, c := range m.clients {
		if c.lastSeen.Before(cutoff) {
			delete(m.clients, key)
		}
	}
}

// RedisLimiter is a fixed-window counter shared by every instance behind the same Redis
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, rpm int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  int64(rpm),
		window: time.Minute,
		prefix: "ratelimit:",
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis incr: %w", err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	if count <= l.limit {
		return true, 0, nil
	}

	ttl, err := l.client.TTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = l.window
	}
	return false, ttl, nil
}

// RateLimitMiddleware rejects requests over budget with 429. Limiter failures let the request through.
func RateLimitMiddleware(limiter Limiter, keyFunc func(*http.Request) string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter, err := limiter.Allow(r.Context(), keyFunc(r))
			if err != nil {
				log.Error("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				apierror.Write(w, apierror.RateLimited(int(math.Ceil(retryAfter.Seconds()))))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey extracts the client address for rate limiting. RemoteAddr is already
// rewritten from X-Forwarded-For / X-Real-IP by chi's RealIP middleware.
func GetIPKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return "ip:" + host
	}
	if addr == "" {
		return "ip:unknown"
	}
	return "ip:" + addr
}
