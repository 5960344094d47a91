package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nkiryanov/storefront/internal/handlers/clientip"
	"github.com/nkiryanov/storefront/internal/handlers/render"
	"github.com/nkiryanov/storefront/internal/ratelimit"
)

type limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error)
}

type warnLogger interface {
	Warn(msg string, args ...any)
}

type RateLimitConfig struct {
	Name   string // route name, part of the key
	Limit  int
	Window time.Duration
}

// Limit requests per client ip and route
// Nil limiter disables the middleware; limiter failures let the request through
func RateLimit(l limiter, cfg RateLimitConfig, log warnLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || cfg.Limit <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.Name + ":" + clientip.FromRequest(r)

			res, err := l.Allow(r.Context(), key, cfg.Limit, cfg.Window)
			if err != nil {
				log.Warn("Rate limiter unavailable, request allowed", "route", cfg.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfter(res.ResetAt)))
				render.CodedError(w, render.CodeRateLimited, "Too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Whole seconds till reset, at least one
func retryAfter(resetAt time.Time) int {
	seconds := int(math.Ceil(time.Until(resetAt).Seconds()))
	return max(seconds, 1)
}
