package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"consult-queue/internal/logging"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter is a fixed-window limiter shared by every instance through Redis.
type RateLimiter struct {
	redis   *redis.Client
	limit   int64
	window  time.Duration
	keyFunc func(e *core.RequestEvent) string
}

func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	return &RateLimiter{
		redis:   redisClient,
		limit:   int64(perMinute),
		window:  time.Minute,
		keyFunc: func(e *core.RequestEvent) string { return e.RealIP() },
	}
}

// Allow counts one request for key. Redis errors let the request through.
func (r *RateLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := r.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		slog.WarnContext(ctx, "rate limiter unavailable", "error", err)
		return true
	}
	if count == 1 {
		r.redis.Expire(ctx, redisKey, r.window)
	}
	return count <= r.limit
}

// Middleware limits API requests per client IP.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		ip := r.keyFunc(e)
		if !r.Allow(e.Request.Context(), "ip:"+ip) {
			logging.LogSecurityEvent(e.Request.Context(), logging.SecurityEventRateLimited,
				"api rate limit exceeded", "ip", ip, "path", e.Request.URL.Path)
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}
		return e.Next()
	}
}

// AntiBotMiddleware rejects obvious crawlers.
func AntiBotMiddleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		userAgent := e.Request.Header.Get("User-Agent")
		if isSuspiciousUserAgent(userAgent) {
			logging.LogSecurityEvent(e.Request.Context(), logging.SecurityEventSuspiciousAgent,
				"blocked suspicious user agent", "user_agent", userAgent, "remote_addr", e.Request.RemoteAddr)
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}

// SenderLimiter throttles inbound SMS per phone number in memory.
type SenderLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	idle    time.Duration
	senders map[string]*sender
	now     func() time.Time
}

type sender struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSenderLimiter(perMinute int) *SenderLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &SenderLimiter{
		every:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		idle:    10 * time.Minute,
		senders: make(map[string]*sender),
		now:     time.Now,
	}
}

func (l *SenderLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s, ok := l.senders[key]
	if !ok {
		s = &sender{limiter: rate.NewLimiter(l.every, l.burst)}
		l.senders[key] = s
	}
	s.lastSeen = now
	return s.limiter.AllowN(now, 1)
}

// Prune forgets senders idle for longer than the idle window.
func (l *SenderLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	pruned := 0
	for key, s := range l.senders {
		if s.lastSeen.Before(cutoff) {
			delete(l.senders, key)
			pruned++
		}
	}
	return pruned
}

// Run prunes idle senders until ctx is done.
func (l *SenderLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
