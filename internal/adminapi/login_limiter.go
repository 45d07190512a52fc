package adminapi

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// loginLimiter throttles POST /login attempts per source IP, independent of
// internal/ratelimit's per-credential limiter: brute-forcing the admin
// password isn't a per-credential concern, and x/time/rate's token bucket
// is the right tool for a single low-traffic endpoint.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &loginLimiter{limiters: map[string]*rate.Limiter{}, r: rate.Limit(perSecond), burst: burst}
}

func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
