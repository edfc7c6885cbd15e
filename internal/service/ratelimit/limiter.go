package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a per-key token bucket. Each key starts full and refills at a
// constant rate up to capacity.
type Limiter struct {
	mu       sync.Mutex
	capacity float64
	refill   float64 // tokens per second
	buckets  map[string]*bucket
	now      func() time.Time
}

// New returns a limiter allowing bursts of capacity and refillPerSec
// sustained requests per key.
func New(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		capacity: capacity,
		refill:   refillPerSec,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow reports whether one token could be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.refill)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Prune drops buckets that have refilled completely, since they behave the
// same as a fresh key.
func (l *Limiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if b.tokens+now.Sub(b.last).Seconds()*l.refill >= l.capacity {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}
