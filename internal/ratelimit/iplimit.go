package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// PerIP hands out one token-bucket limiter per source IP. Limiters are never
// evicted; the set of IPs a relay sees between restarts is small enough that
// the map stays bounded in practice.
type PerIP struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// NewPerIP builds a per-IP limiter allowing limit events/sec with the given
// burst.
func NewPerIP(limit rate.Limit, burst int) *PerIP {
	return &PerIP{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *PerIP) limiterFor(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	limiter, ok := p.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[ip] = limiter
	}
	return limiter
}

// Allow reports whether ip may proceed right now.
func (p *PerIP) Allow(ip string) bool {
	return p.limiterFor(ip).Allow()
}
