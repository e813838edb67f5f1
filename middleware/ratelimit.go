package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ledgerwise/authcore"
	"github.com/ledgerwise/authcore/internal/httpx"
)

// RateLimiter counts attempts. *authcore.Engine implements it.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, scope, identifier string, rule authcore.RateLimitRule) (authcore.RateDecision, error)
}

// KeyFunc derives the rate limit identifier of a request.
type KeyFunc func(*http.Request) string

// Rule binds a budget to a scope and an identifier source.
type Rule struct {
	Scope      string
	Limit      authcore.RateLimitRule
	Identifier KeyFunc
}

// ByClientIP keys requests by caller address, e.g. "ip:203.0.113.9".
func ByClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return "ip:" + httpx.ClientIP(r, trustProxy)
	}
}

// RateLimit counts every request against rule before anything else runs.
// Over-budget requests get 429 RATE_LIMITED with Retry-After; a store fault
// gets 503 SERVICE_UNAVAILABLE. Attempts are never refunded.
func RateLimit(limiter RateLimiter, rule Rule) func(http.Handler) http.Handler {
	identify := rule.Identifier
	if identify == nil {
		identify = ByClientIP(false)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				httpx.WriteError(w, authcore.ErrServiceUnavailable)
				return
			}

			key := identify(r)
			if key == "" {
				key = "unknown"
			}

			d, err := limiter.CheckRateLimit(r.Context(), rule.Scope, key, rule.Limit)
			if d.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}
			if err != nil {
				if !errors.Is(err, authcore.ErrRateLimited) {
					err = authcore.ErrServiceUnavailable
				}
				httpx.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
