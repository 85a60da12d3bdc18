package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max is reported in X-RateLimit-Limit and must match the limiter.
	Max     int
	Limiter Limiter
	// KeyFunc defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting (health probes, gateway callbacks).
	Skip func(*http.Request) bool
}

// RateLimit rejects requests over the limit with 429. Limiter errors let the
// request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				wait := d.ResetAt.Sub(now)
				if wait < 0 {
					wait = 0
				}
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// MemoryLimiter is a per-process sliding window limiter. The previous window
// is weighted by how much of it still overlaps the sliding window.
type MemoryLimiter struct {
	max    int
	window time.Duration

	mu   sync.Mutex
	keys map[string]*window
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows limit requests per key in any sliding period per.
func NewMemoryLimiter(limit int, per time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:    limit,
		window: per,
		keys:   make(map[string]*window),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.window)
	w, ok := l.keys[key]
	switch {
	case !ok:
		w = &window{currStart: start}
		l.keys[key] = w
	case start.Sub(w.currStart) >= 2*l.window:
		*w = window{currStart: start}
	case start.After(w.currStart):
		*w = window{prev: w.curr, currStart: start}
	}

	overlap := 1 - float64(now.Sub(w.currStart))/float64(l.window)
	if overlap < 0 {
		overlap = 0
	}
	used := w.prev*overlap + w.curr
	d := Decision{ResetAt: w.currStart.Add(l.window)}
	if used >= float64(l.max) {
		return d, nil
	}

	w.curr++
	d.Allowed = true
	d.Remaining = max(0, int(float64(l.max)-used-1))
	return d, nil
}

// Evict drops keys idle for two windows.
func (l *MemoryLimiter) Evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.keys {
		if now.Sub(w.currStart) >= 2*l.window {
			delete(l.keys, k)
		}
	}
}

// RunEviction calls Evict every two windows until ctx is done.
func (l *MemoryLimiter) RunEviction(ctx context.Context) {
	t := time.NewTicker(2 * l.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Evict(now)
		}
	}
}
