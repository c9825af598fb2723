package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/learnhub/learnhub/internal/metrics"
)

// slidingWindow trims the window, then records the request only if the
// client is under the limit, so rejected attempts never extend a lockout.
// Returns {allowed, remaining}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return {0, 0}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1}
`)

// RateLimiter is a per-IP sliding window kept in a Redis sorted set.
// Limiters with different scopes count independently.
type RateLimiter struct {
	client redis.Scripter
	scope  string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows maxReqs per windowSec seconds for each client IP.
func NewRateLimiter(client redis.Scripter, scope string, maxReqs, windowSec int) *RateLimiter {
	return &RateLimiter{
		client: client,
		scope:  scope,
		limit:  maxReqs,
		window: time.Duration(windowSec) * time.Second,
		now:    time.Now,
	}
}

// Middleware enforces the limit. Redis failures let the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		allowed, remaining, err := rl.take(r.Context(), "ratelimit:"+rl.scope+":"+ip)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request",
				"error", err, "scope", rl.scope, "ip", ip)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			metrics.RateLimitRejectionsTotal.WithLabelValues(rl.scope).Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window/time.Second)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) take(ctx context.Context, key string) (bool, int, error) {
	res, err := slidingWindow.Run(ctx, rl.client, []string{key},
		rl.now().UnixMilli(), rl.window.Milliseconds(), rl.limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	return res[0] == 1, int(res[1]), nil
}

// clientIP prefers the first X-Forwarded-For hop; the API runs behind a
// reverse proxy that sets it.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
