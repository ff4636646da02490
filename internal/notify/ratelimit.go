package notify

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding window limit per notifier
type RateLimiter struct {
	mu        sync.Mutex
	events    map[NotifierType][]time.Time
	interval  time.Duration
	maxEvents int
	now       func() time.Time
}

// NewRateLimiter creates new rate limiter
func NewRateLimiter(interval time.Duration, maxEvents int) *RateLimiter {
	return &RateLimiter{
		events:    make(map[NotifierType][]time.Time),
		interval:  interval,
		maxEvents: maxEvents,
		now:       time.Now,
	}
}

// AllowNotification checks if a notification is allowed under rate limits
func (r *RateLimiter) AllowNotification(notifierType NotifierType) bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	timestamps := r.events[notifierType]

	// Clean expired timestamps
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < r.interval {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxEvents {
		r.events[notifierType] = valid
		return false
	}

	r.events[notifierType] = append(valid, now)
	return true
}
