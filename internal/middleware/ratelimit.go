package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// fixedWindow counts requests per key in windows of length per.
type fixedWindow struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	windows map[string]*window
	swept   time.Time
	now     func() time.Time
}

func newFixedWindow(limit int, per time.Duration) *fixedWindow {
	return &fixedWindow{limit: limit, per: per, windows: make(map[string]*window), now: time.Now}
}

// allow records one request for key. When the window is full it reports
// false and how long until the window resets.
func (f *fixedWindow) allow(key string) (bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if now.Sub(f.swept) > f.per {
		for k, w := range f.windows {
			if !now.Before(w.resetAt) {
				delete(f.windows, k)
			}
		}
		f.swept = now
	}
	w, ok := f.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(f.per)}
		f.windows[key] = w
	}
	if w.count >= f.limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}

// RateLimit allows limit requests per client IP in each window of length per.
// It expects chi's RealIP to have run first. A limit <= 0 disables it.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		fw := newFixedWindow(limit, per)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := fw.allow(clientKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
