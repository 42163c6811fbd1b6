package handler

import (
	"net"
	"net/http"
	"sync"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/metrics"
	"golang.org/x/time/rate"
)

// RateLimiter enforces a token bucket per client IP
type RateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	metrics  *metrics.Metrics
}

// NewRateLimiter creates a per-IP limiter. A nil *RateLimiter lets every
// request through.
func NewRateLimiter(cfg *config.RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		rps:     rate.Limit(cfg.ClaimsPerSecond),
		burst:   cfg.Burst,
		metrics: m,
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rps, l.burst))
	return v.(*rate.Limiter)
}

// Allow reports whether a request from key may proceed
func (l *RateLimiter) Allow(key string) bool {
	allowed := l.limiter(key).Allow()
	l.metrics.ObserveRateLimit(allowed)
	return allowed
}

// Middleware rejects requests over the limit with 429
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request IP; RealIP middleware has already replaced
// RemoteAddr when proxy headers are present
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
