package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter counts requests per key in fixed one-minute windows.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	start time.Time
	n     int
}

// NewRateLimiter returns a limiter that forgets idle keys every few minutes
// until Close is called.
func NewRateLimiter() *RateLimiter {
	rl := newLimiter()
	rl.stop = make(chan struct{})
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-t.C:
				rl.sweep()
			}
		}
	}()
	return rl
}

func newLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]*window), now: time.Now}
}

// Close stops the sweeper. Safe to call twice.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() {
		if rl.stop != nil {
			close(rl.stop)
		}
	})
}

// Allow counts one request for key. When the key is over limit it reports
// false and how long until its window resets.
func (rl *RateLimiter) Allow(key string, limit int) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.windows[key]
	if w == nil || now.Sub(w.start) >= rateWindow {
		rl.windows[key] = &window{start: now, n: 1}
		return true, 0
	}
	if w.n >= limit {
		return false, w.start.Add(rateWindow).Sub(now)
	}
	w.n++
	return true, 0
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-2 * rateWindow)
	for k, w := range rl.windows {
		if w.start.Before(cutoff) {
			delete(rl.windows, k)
		}
	}
}

// ipRateLimitMiddleware limits /v1/ traffic per client address before auth,
// so key guessing is throttled as well.
func (s *Server) ipRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if ok, wait := s.rateLimiter.Allow("ip:"+ip, s.config.RateLimitIP); !ok {
			s.rejectRateLimited(w, r, "", ip, wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit limits an authenticated route per API key. Each route class
// has its own budget.
func (s *Server) withRateLimit(handler http.HandlerFunc, limit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := getUserFromContext(r.Context())
		if user == nil {
			handler(w, r)
			return
		}
		class := classifyEndpoint(r.URL.Path)
		if ok, wait := s.rateLimiter.Allow(fmt.Sprintf("key:%s:%s", user.KeyID, class), limit); !ok {
			s.rejectRateLimited(w, r, user.KeyID, clientIP(r), wait)
			return
		}
		handler(w, r)
	}
}

func (s *Server) rejectRateLimited(w http.ResponseWriter, r *http.Request, keyID, ip string, wait time.Duration) {
	s.metrics.RecordRateLimited()
	if err := s.store.InsertRateLimitEvent(keyID, ip, classifyEndpoint(r.URL.Path)); err != nil {
		logFor(r.Context()).Error("record rate limit event", "err", err)
	}
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
}

// classifyEndpoint names the route class used for limits and rate limit events.
func classifyEndpoint(path string) string {
	switch {
	case strings.HasSuffix(path, "/sync/push"):
		return "push"
	case strings.HasSuffix(path, "/sync/pull"):
		return "pull"
	}
	return "other"
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
