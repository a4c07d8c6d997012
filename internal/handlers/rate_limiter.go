package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

type rateLimiter interface {
	// Allow records one attempt for key. When the attempt is refused it also returns how long
	// until the key's window resets.
	Allow(key string) (bool, time.Duration)
}

// windowLimiter is a fixed-window counter per key, local to this instance.
type windowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]rateWindow
	nextPrune time.Time
}

type rateWindow struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		now:     clock,
		windows: make(map[string]rateWindow),
	}
}

func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.After(l.nextPrune) {
		for k, w := range l.windows {
			if !now.Before(w.reset) {
				delete(l.windows, k)
			}
		}
		l.nextPrune = now.Add(l.window)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		l.windows[key] = rateWindow{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if w.count >= l.limit {
		return false, w.reset.Sub(now)
	}
	w.count++
	l.windows[key] = w
	return true, 0
}

// rateLimitByCaller answers 429 with Retry-After once a caller exceeds the limiter. It must run
// after authentication so the caller id is known.
func rateLimitByCaller(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if ok, wait := limiter.Allow(requestctx.Caller(ctx)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts, try again shortly", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
