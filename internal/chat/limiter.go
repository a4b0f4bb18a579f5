package chat

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool rate-limits inbound events per connection id.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

// newLimiterPool returns nil (no limit) for a non-positive rps.
func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &limiterPool{m: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (p *limiterPool) allow(key string) bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	l, ok := p.m[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.m[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

func (p *limiterPool) forget(key string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
}
