package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	key      string
	data     []byte
	expireAt time.Time
}

// MemoryCache implements Service in process with LRU eviction and TTL.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front is most recently used
	cfg   MemoryConfig
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := MemoryConfig{
		MaxSize:         1000,
		DefaultTTL:      time.Hour,
		CleanupInterval: 5 * time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	mc := &MemoryCache{
		items: make(map[string]*list.Element),
		order: list.New(),
		cfg:   cfg,
		stop:  make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go mc.cleanupLoop()
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = mc.cfg.DefaultTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, data, mc.cfg.now().Add(expiration))
	return nil
}

func (mc *MemoryCache) put(key string, data []byte, expireAt time.Time) {
	if el, ok := mc.items[key]; ok {
		it := el.Value.(*memoryItem)
		it.data, it.expireAt = data, expireAt
		mc.order.MoveToFront(el)
		return
	}
	for mc.order.Len() >= mc.cfg.MaxSize {
		mc.remove(mc.order.Back())
	}
	mc.items[key] = mc.order.PushFront(&memoryItem{key: key, data: data, expireAt: expireAt})
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest any) error {
	mc.mu.Lock()
	el, ok := mc.live(key)
	if !ok {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.order.MoveToFront(el)
	data := el.Value.(*memoryItem).data
	mc.mu.Unlock()

	return decode(data, dest)
}

// live returns the element for key, dropping it if expired. Callers hold mu.
func (mc *MemoryCache) live(key string) (*list.Element, bool) {
	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	if mc.cfg.now().After(el.Value.(*memoryItem).expireAt) {
		mc.remove(el)
		return nil, false
	}
	return el, true
}

func (mc *MemoryCache) remove(el *list.Element) {
	if el == nil {
		return
	}
	mc.order.Remove(el)
	delete(mc.items, el.Value.(*memoryItem).key)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		mc.remove(mc.items[key])
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if _, ok := mc.live(key); ok {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.live(key); ok {
		return false, nil
	}
	mc.put(key, []byte("locked"), mc.cfg.now().Add(ttl))
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Len reports live and not yet collected entries.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.order.Len()
}

func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(mc.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mc.purgeExpired()
		case <-mc.stop:
			return
		}
	}
}

func (mc *MemoryCache) purgeExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.cfg.now()
	for el := mc.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*memoryItem).expireAt) {
			mc.remove(el)
		}
		el = prev
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}
