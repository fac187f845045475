package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP rate limiting for API endpoints.
type RateLimitConfig struct {
	// Rate is the sustained requests per second allowed per IP.
	Rate rate.Limit
	// Burst is the short-term burst allowance per IP.
	Burst int
	// CleanupInterval is how often idle limiters are swept.
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter survives between sweeps.
	MaxAge time.Duration
}

// DefaultRateLimitConfig covers the general API surface: 20 requests/second
// with a burst of 40 per IP.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(20),
		Burst:           40,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// CallRateLimitConfig is the tighter budget for call origination: 5
// requests/second with a burst of 10 per IP, so a runaway dialer cannot
// flood the session manager.
func CallRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(5),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// IPRateLimiter hands out one token bucket per client IP and sweeps buckets
// that have gone idle.
type IPRateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time

	done chan struct{}
}

// NewIPRateLimiter creates a per-IP limiter and starts its sweep goroutine.
// Call Stop when the limiter is no longer needed.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		cfg:      cfg,
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow reports whether a request from ip fits within its budget.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	bucket, ok := rl.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)
		rl.buckets[ip] = bucket
	}
	rl.lastSeen[ip] = time.Now()
	rl.mu.Unlock()

	return bucket.Allow()
}

// Stop terminates the sweep goroutine.
func (rl *IPRateLimiter) Stop() {
	close(rl.done)
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep(time.Now().Add(-rl.cfg.MaxAge))
		case <-rl.done:
			return
		}
	}
}

// sweep drops buckets not seen since the cutoff.
func (rl *IPRateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	swept := 0
	for ip, seen := range rl.lastSeen {
		if seen.Before(cutoff) {
			delete(rl.buckets, ip)
			delete(rl.lastSeen, ip)
			swept++
		}
	}
	if swept > 0 {
		slog.Debug("rate limiter sweep", "swept", swept, "remaining", len(rl.buckets))
	}
}

// RateLimit limits requests by client IP, answering 429 with a Retry-After
// header once the budget is spent.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.Allow(ip) {
				slog.Warn("rate limit exceeded",
					"ip", ip,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				writeEnvelopeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware runs
// first and rewrites RemoteAddr from X-Forwarded-For / X-Real-IP when the
// server sits behind a reverse proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
