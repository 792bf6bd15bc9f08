package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket per client IP. X-Forwarded-For is never
// trusted: only the TCP peer address counts, so the limit cannot be bypassed
// with a spoofed header.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string]*bucket
	rate     int
	window   time.Duration
	maxIPs   int
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows rate requests per window per IP.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string]*bucket),
		rate:     rate,
		window:   window,
		maxIPs:   10000,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request from ip fits the budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.requests[ip]
	if !ok {
		if len(rl.requests) >= rl.maxIPs {
			rl.evict(now)
		}
		rl.requests[ip] = &bucket{tokens: rl.rate - 1, lastRefill: now}
		return true
	}

	if now.Sub(b.lastRefill) >= rl.window {
		b.tokens = rl.rate - 1
		b.lastRefill = now
		return true
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// evict drops stale buckets, then if the table is still full, an arbitrary
// tenth of it. Called with the lock held.
func (rl *RateLimiter) evict(now time.Time) {
	for ip, b := range rl.requests {
		if now.Sub(b.lastRefill) > rl.window*2 {
			delete(rl.requests, ip)
		}
	}
	if len(rl.requests) >= rl.maxIPs {
		toRemove := len(rl.requests) / 10
		for ip := range rl.requests {
			delete(rl.requests, ip)
			if toRemove--; toRemove <= 0 {
				break
			}
		}
	}
}

// Middleware wraps a handler with the per-IP limit.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, b := range rl.requests {
			if now.Sub(b.lastRefill) > rl.window*2 {
				delete(rl.requests, ip)
			}
		}
		rl.mu.Unlock()
	}
}
