package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cabshare/internal/config"
	"cabshare/pkg/jwt"
)

// Bucket takes one token from the bucket named key.
type Bucket interface {
	TakeToken(ctx context.Context, key string, capacity, refill int, interval, ttl time.Duration) (allowed bool, remaining int64, retryAfter time.Duration, err error)
}

// TokenBucket limits requests per client IP, user and route. A nil bucket or
// a disabled config yields a pass-through middleware. Backend errors fail open.
func TokenBucket(cfg config.RateLimit, bucket Bucket, logger *slog.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled || bucket == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateKey(cfg.Prefix, r)
			allowed, remaining, retry, err := bucket.TakeToken(r.Context(), key,
				cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval, cfg.TTL)
			if err != nil {
				logger.Warn("rate limiter unavailable", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if !allowed {
				secs := int(math.Ceil(retry.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":       "rate limit exceeded",
					"retry_after": secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(prefix string, r *http.Request) string {
	uid := "anon"
	if c := jwt.GetClaims(r.Context()); c != nil {
		uid = c.UserID
	}
	route := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i > 0 {
		ip = ip[:i]
	}
	return strings.Join([]string{prefix, "ip", ip, "user", uid, "route", r.Method + " " + route}, ":")
}
