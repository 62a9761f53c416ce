package adapthttp

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// loginLimiter throttles credential endpoints per client IP. Idle entries
// are pruned on access, so no background goroutine is needed.
type loginLimiter struct {
	rate  rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	lastPrune time.Time
}

// newLoginLimiter allows perMinute attempts per IP. perMinute <= 0
// disables throttling.
func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &loginLimiter{
		rate:      rate.Limit(float64(perMinute) / 60.0),
		burst:     perMinute,
		limiters:  make(map[string]*ipLimiter),
		lastPrune: time.Now(),
	}
}

func (l *loginLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.get(ip).Allow() {
			slog.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			l.writeLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *loginLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for k, v := range l.limiters {
			if now.Sub(v.lastAccess) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.limiters[ip]
	if !ok {
		e = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = e
	}
	e.lastAccess = now
	return e.limiter
}

func (l *loginLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *loginLimiter) writeLimited(w http.ResponseWriter) {
	retryAfter := int(math.Ceil(1.0 / float64(l.rate)))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "too many attempts",
		"retry_after": retryAfter,
	})
}

// clientIP returns the host part of the remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
