package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter caps admin writes per client with a fixed window.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type window struct {
	opened time.Time
	used   int
}

// NewRateLimiter allows limit requests per client per period. Stale
// windows are swept in the background until Stop.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) sweep() {
	defer close(rl.done)
	t := time.NewTicker(max(rl.period, time.Minute))
	defer t.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-t.C:
			rl.mu.Lock()
			for k, w := range rl.windows {
				if now.Sub(w.opened) > 2*rl.period {
					delete(rl.windows, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

// Take spends one request for key. It returns zero when the request is
// allowed, else how long until the key's window reopens.
func (rl *RateLimiter) Take(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.opened) >= rl.period {
		w = &window{opened: now}
		rl.windows[key] = w
	}
	if w.used >= rl.limit {
		return max(w.opened.Add(rl.period).Sub(now), time.Nanosecond)
	}
	w.used++
	return 0
}

// Limit rejects requests over the limit with 429 and a Retry-After header.
func (rl *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wait := rl.Take(clientIP(r)); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// clientIP returns the first X-Forwarded-For address, else the remote
// address without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}
	ip := r.RemoteAddr
	if i := strings.LastIndexByte(ip, ':'); i >= 0 {
		ip = ip[:i]
	}
	return ip
}
