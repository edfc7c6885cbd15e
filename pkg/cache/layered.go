package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache is a two-level cache: a fast L1 (memory) in front of a shared
// L2 (Redis).
type LayeredCache struct {
	l1    Service
	l2    Service
	l1TTL time.Duration
}

// NewLayeredCache puts l1 in front of l2.
func NewLayeredCache(l1, l2 Service, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{L1TTL: 5 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{l1: l1, l2: l2, l1TTL: cfg.L1TTL}
}

// LayeredOption configures Layered cache.
type LayeredOption func(*LayeredConfig)

type LayeredConfig struct {
	L1TTL time.Duration
}

// WithL1TTL caps how long L1 keeps a value promoted from L2.
func WithL1TTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		c.L1TTL = ttl
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	// Write-through: L2 first, then L1
	if err := lc.l2.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.l1.Set(ctx, key, value, lc.l1Expiry(expiration))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest any) error {
	if err := lc.l1.Get(ctx, key, dest); err == nil {
		return nil
	}

	var raw []byte
	if err := lc.l2.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, raw, lc.l1TTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) l1Expiry(d time.Duration) time.Duration {
	if d <= 0 || d > lc.l1TTL {
		return lc.l1TTL
	}
	return d
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.l1.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.l2.Exists(ctx, keys...)
}

// Locks live in L2 only, since L1 is per-process.
func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	return errors.Join(lc.l1.Close(), lc.l2.Close())
}
