package httpclient

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter keeps one token bucket per upstream host
type hostLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newHostLimiter(perSecond float64, burst int) *hostLimiter {
	if perSecond <= 0 {
		return &hostLimiter{}
	}
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	return &hostLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (h *hostLimiter) wait(ctx context.Context, host string) error {
	if h.buckets == nil {
		return nil
	}

	h.mu.Lock()
	l, ok := h.buckets[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.buckets[host] = l
	}
	h.mu.Unlock()

	return l.Wait(ctx)
}
