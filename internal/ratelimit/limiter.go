// Package ratelimit provides a per-host request-rate limiter, distinct
// from the admission gates: the gates bound how many attempts are in
// flight, the limiter bounds how fast new attempts start.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per remote host. The zero rate means
// unlimited. Limiters are created lazily on first use of a host.
type Limiter struct {
	limit rate.Limit
	burst int

	mu    sync.RWMutex
	hosts map[string]*rate.Limiter
}

// New creates a limiter allowing rps requests per second per host.
// rps <= 0 disables limiting.
func New(rps float64, burst int) *Limiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limit: limit,
		burst: burst,
		hosts: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.hosts[host]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.hosts[host]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.limit, l.burst)
	l.hosts[host] = lim
	return lim
}

// Wait blocks until the host's bucket permits an event, or the context
// is canceled.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.limiterFor(host).Wait(ctx)
}

// Allow reports whether an event for host may happen now.
func (l *Limiter) Allow(host string) bool {
	return l.limiterFor(host).Allow()
}
