// Package ratelimit admits or rejects requests per client using a sliding
// time window, independent of any single route.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/osumirror/mirror/internal/metrics"
)

// Config controls the sliding window. Zero values fall back to the spec
// defaults (60 requests per 60 seconds).
type Config struct {
	MaxRequests int
	Window      time.Duration
}

type client struct {
	timestamps []time.Time
}

// Limiter tracks request timestamps per resolved client identity. Adapted
// from arung-agamani-denpa-radio's internal/auth login rate limiter
// (prune-then-append over a map[string][]time.Time under a mutex), widened
// from "count failed logins" to "count every admitted request."
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	max     int
	window  time.Duration
}

// New builds a Limiter with the given config, applying spec defaults for
// zero fields.
func New(cfg Config) *Limiter {
	max := cfg.MaxRequests
	if max <= 0 {
		max = 60
	}
	window := cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	l := &Limiter{
		clients: make(map[string]*client),
		max:     max,
		window:  window,
	}
	go l.cleanup()
	return l
}

// Allow reports whether key may make another request right now. Only
// admitted requests are recorded; a rejected attempt does not count toward
// the window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{}
		l.clients[key] = c
	}
	l.prune(c)
	if len(c.timestamps) >= l.max {
		return false
	}
	c.timestamps = append(c.timestamps, time.Now())
	return true
}

// prune removes timestamps outside the window. Caller must hold the mutex.
func (l *Limiter) prune(c *client) {
	cutoff := time.Now().Add(-l.window)
	n := 0
	for _, t := range c.timestamps {
		if t.After(cutoff) {
			c.timestamps[n] = t
			n++
		}
	}
	c.timestamps = c.timestamps[:n]
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for key, c := range l.clients {
			l.prune(c)
			if len(c.timestamps) == 0 {
				delete(l.clients, key)
			}
		}
		l.mu.Unlock()
	}
}

// ClientKey resolves the identity a request is rate-limited under:
// cf-connecting-ip, then the first token of x-forwarded-for, then the peer
// socket address, then "unknown".
func ClientKey(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.SplitN(xff, ",", 2)[0]
		if trimmed := strings.TrimSpace(first); trimmed != "" {
			return trimmed
		}
	}
	if r.RemoteAddr != "" {
		return stripPort(r.RemoteAddr)
	}
	return "unknown"
}

func stripPort(addr string) string {
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]:"); idx != -1 {
			return addr[1:idx]
		}
		return strings.Trim(addr, "[]")
	}
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// Middleware returns an http.Handler wrapper that rejects requests over the
// limit with 429 and a plain-text body.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if !l.Allow(key) {
			metrics.RateLimitRejections.Inc()
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// DownloadLimiter enforces the separate, coarser per-client budget on the
// archive download route (spec: downloads_per_10min), as a token bucket
// rather than a sliding window — a download burst should drain smoothly and
// refill at a steady rate, not reset sharply at a window boundary the way
// ordinary request admission does.
type DownloadLimiter struct {
	mu       sync.Mutex
	clients  map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewDownloadLimiter builds a DownloadLimiter allowing perTenMinutes
// downloads per client per ten minutes, refilled continuously at that
// average rate with a burst equal to the full allowance.
func NewDownloadLimiter(perTenMinutes int) *DownloadLimiter {
	if perTenMinutes <= 0 {
		perTenMinutes = 80
	}
	return &DownloadLimiter{
		clients: make(map[string]*rate.Limiter),
		r:       rate.Limit(float64(perTenMinutes) / (10 * 60)),
		burst:   perTenMinutes,
	}
}

// Allow reports whether key may start another download right now.
func (d *DownloadLimiter) Allow(key string) bool {
	d.mu.Lock()
	lim, ok := d.clients[key]
	if !ok {
		lim = rate.NewLimiter(d.r, d.burst)
		d.clients[key] = lim
	}
	d.mu.Unlock()
	return lim.Allow()
}
