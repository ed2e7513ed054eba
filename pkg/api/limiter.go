package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"presencedb/pkg/config"
	"presencedb/pkg/utils"
)

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	rps float64
	bst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.bst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimitMiddleware applies a per-client-IP token bucket. A zero RPS
// config disables limiting entirely.
func RateLimitMiddleware(sec config.SecurityConfig) func(http.Handler) http.Handler {
	pool := &limiterPool{rps: sec.RateLimit.RPS, bst: sec.RateLimit.Burst}
	enabled := sec.RateLimit.RPS > 0
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enabled {
				key := clientKey(r)
				if !pool.Allow(key) {
					utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
