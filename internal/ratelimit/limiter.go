// Package ratelimit enforces minimum spacing between requests to the same
// domain.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks a per-domain "next eligible" time. A single context-aware
// Wait serves both blocking callers (pass context.Background()) and
// cooperative ones, so every caller advances the same per-domain state.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*rate.Limiter
}

// New constructs an empty Limiter; domain state is created lazily.
func New() *Limiter {
	return &Limiter{domains: make(map[string]*rate.Limiter)}
}

// Wait blocks until the next request to domain is eligible, then claims the
// slot. minInterval is supplied per call site since it is site-specific; if
// it changes between calls the limiter is retuned in place. Domains never
// contend with each other.
func (l *Limiter) Wait(ctx context.Context, domain string, minInterval time.Duration) error {
	lim := l.limiterFor(domain, minInterval)
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", domain, err)
	}
	return nil
}

func (l *Limiter) limiterFor(domain string, minInterval time.Duration) *rate.Limiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.domains[domain]
	if !ok {
		// Burst 1 means exactly one request per interval: the next claim
		// cannot start before the previous one plus minInterval.
		lim = rate.NewLimiter(limit, 1)
		l.domains[domain] = lim
		return lim
	}
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	return lim
}
