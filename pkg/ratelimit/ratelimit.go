// Package ratelimit counts requests per client in Redis using fixed windows,
// so every API process shares the same budget.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "poolfund:ratelimit:"

// Limiter allows up to limit requests per client per window.
type Limiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewLimiter(client redis.Cmdable, limit int, window time.Duration, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

func (l *Limiter) key(client string, now time.Time) (string, time.Duration) {
	slot := now.UnixNano() / int64(l.window)
	reset := time.Unix(0, (slot+1)*int64(l.window)).Sub(now)
	return fmt.Sprintf("%s%s:%d", keyPrefix, client, slot), reset
}

// Allow counts one request for client. When the budget is spent it returns
// false and how long until the window resets.
func (l *Limiter) Allow(ctx context.Context, client string) (bool, time.Duration, error) {
	key, reset := l.key(client, l.now())
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to count request for %s: %w", client, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set window expiry for %s: %w", client, err)
		}
	}
	if count > l.limit {
		return false, reset, nil
	}
	return true, 0, nil
}

// Middleware rejects clients over budget with 429. Requests pass through
// when Redis cannot be reached.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddress(r)
		ok, retryAfter, err := l.Allow(r.Context(), client)
		if err != nil {
			l.logger.Warn("rate limiter unavailable, allowing request", zap.String("client", client), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"success":   false,
				"errorKind": "RateLimited",
				"message":   "too many requests, try again later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
