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
)

// Limit is a sliding window request budget. A zero Max disables the limit.
type Limit struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	// Default applies to every route without a limit of its own.
	Default Limit
	// Routes maps route patterns, as resolved by Route, to their own limit.
	// Each routed limit is counted apart from Default, so coupon validation
	// can be throttled harder than browsing.
	Routes map[string]Limit
	// Route resolves the request's route pattern. Routes is ignored when nil.
	Route RouteFinder
	// KeyFunc identifies the client. If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

type bucketKey struct {
	route  string
	client string
}

// bucket counts requests in the current fixed window and keeps the previous
// window's count to weight the sliding estimate.
type bucket struct {
	limit Limit
	start time.Time
	prev  float64
	curr  float64
}

func (b *bucket) roll(now time.Time) {
	elapsed := now.Sub(b.start)
	if elapsed < b.limit.Window {
		return
	}
	if elapsed >= 2*b.limit.Window {
		b.prev = 0
	} else {
		b.prev = b.curr
	}
	b.curr = 0
	b.start = now.Truncate(b.limit.Window)
}

// used is the sliding window estimate of requests in the last Window.
func (b *bucket) used(now time.Time) float64 {
	overlap := 1 - now.Sub(b.start).Seconds()/b.limit.Window.Seconds()
	return b.prev*max(overlap, 0) + b.curr
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &rateLimiter{
		cfg:     cfg,
		buckets: make(map[bucketKey]*bucket),
	}
}

// resolve picks the limit governing r and the bucket it is counted in.
func (rl *rateLimiter) resolve(r *http.Request) (bucketKey, Limit) {
	key := bucketKey{client: rl.cfg.KeyFunc(r)}
	if rl.cfg.Route == nil || len(rl.cfg.Routes) == 0 {
		return key, rl.cfg.Default
	}
	route := rl.cfg.Route(r)
	if lim, ok := rl.cfg.Routes[route]; ok {
		key.route = route
		return key, lim
	}
	return key, rl.cfg.Default
}

// take counts one request against the bucket. It reports the requests left
// in the window, when the window resets and whether the request fits.
func (rl *rateLimiter) take(key bucketKey, lim Limit, now time.Time) (remaining int, resetAt time.Time, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limit: lim, start: now.Truncate(lim.Window)}
		rl.buckets[key] = b
	}
	b.roll(now)

	used := b.used(now)
	resetAt = b.start.Add(lim.Window)
	if used >= float64(lim.Max) {
		return 0, resetAt, false
	}
	b.curr++
	return max(int(float64(lim.Max)-used-1), 0), resetAt, true
}

// sweep drops buckets idle for two full windows.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if now.Sub(b.start) >= 2*b.limit.Window {
			delete(rl.buckets, key)
		}
	}
}

// shortestWindow is the smallest enabled window across all limits.
func (rl *rateLimiter) shortestWindow() time.Duration {
	var shortest time.Duration
	consider := func(l Limit) {
		if l.Max > 0 && l.Window > 0 && (shortest == 0 || l.Window < shortest) {
			shortest = l.Window
		}
	}
	consider(rl.cfg.Default)
	for _, l := range rl.cfg.Routes {
		consider(l)
	}
	return shortest
}

func (rl *rateLimiter) startSweeper(ctx context.Context) {
	window := rl.shortestWindow()
	if window == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(2 * window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.sweep(now)
			}
		}
	}()
}

// RateLimit returns a middleware enforcing per-client sliding window limits,
// with separate budgets for the routes listed in cfg.Routes. Rejected
// requests get 429 Too Many Requests and a JSON error body. Limited responses
// carry X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
//
// Idle buckets are never evicted; long running servers should use
// RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimitMiddleware(newRateLimiter(cfg))
}

// RateLimitWithCleanup is RateLimit with a background sweep of idle buckets
// that stops when ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	rl.startSweeper(ctx)
	return rateLimitMiddleware(rl)
}

func rateLimitMiddleware(rl *rateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, lim := rl.resolve(r)
			if lim.Max <= 0 || lim.Window <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			remaining, resetAt, allowed := rl.take(key, lim, time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(lim.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				wait := max(time.Until(resetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
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
