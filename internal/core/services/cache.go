package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

// CacheOptions configures a TTLCache.
type CacheOptions struct {
	// Name scopes coalescing keys so two caches never share a call.
	Name string

	// DefaultTTL applies when Get is called with a zero ttl.
	DefaultTTL time.Duration

	// NegativeTTL is how long a failure is served before the loader may run again.
	NegativeTTL time.Duration

	// BaseDelay and MaxDelay bound the background retry backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxRetries caps consecutive background retries. Invalidate resets it.
	MaxRetries int

	// KeyPrefix namespaces persisted entries in the KVStore.
	KeyPrefix string
}

// CacheOptionsFromConfig maps the cache section of the config.
func CacheOptionsFromConfig(name string, cfg domain.CacheConfig) CacheOptions {
	return CacheOptions{
		Name:        name,
		DefaultTTL:  cfg.DefaultTTL.Std(),
		NegativeTTL: cfg.NegativeTTL.Std(),
		BaseDelay:   cfg.BaseDelay.Std(),
		MaxDelay:    cfg.MaxDelay.Std(),
		MaxRetries:  cfg.MaxRetries,
		KeyPrefix:   "cache/" + name + "/",
	}
}

// Loader produces the value for a cache key.
type Loader[T any] func(ctx context.Context) (T, error)

// TTLCache is a keyed cache with positive and negative memoisation.
// Misses are loaded through a Coalescer so racing readers share one call.
// A failed load is cached for NegativeTTL and retried in the background with
// exponential backoff until it succeeds or MaxRetries is reached.
type TTLCache[T any] struct {
	opts      CacheOptions
	clock     driven.Clock
	store     driven.KVStore
	coalescer *Coalescer

	life   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*cacheSlot[T]
	epochs  map[string]uint64
	loading map[string]int
	closed  bool
}

type cacheSlot[T any] struct {
	entry  domain.CacheEntry[T]
	loader Loader[T]
	ttl    time.Duration
	retry  driven.Timer
	gen    uint64
}

// NewTTLCache creates a cache. store may be nil to keep entries in memory only.
func NewTTLCache[T any](opts CacheOptions, clock driven.Clock, store driven.KVStore, coalescer *Coalescer) *TTLCache[T] {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "cache/"
	}
	life, cancel := context.WithCancel(context.Background())
	return &TTLCache[T]{
		opts:      opts,
		clock:     clock,
		store:     store,
		coalescer: coalescer,
		life:      life,
		cancel:    cancel,
		entries:   make(map[string]*cacheSlot[T]),
		epochs:    make(map[string]uint64),
		loading:   make(map[string]int),
	}
}

// Get returns the cached value for key while it is fresh. Otherwise loader
// runs, at most once across concurrent callers, and its outcome is cached.
// A cached failure is returned as an error until its negative ttl expires.
func (c *TTLCache[T]) Get(ctx context.Context, key string, loader Loader[T], ttl time.Duration) (T, error) {
	var zero T
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, domain.ErrDisposed
	}
	slot, ok := c.entries[key]
	if ok {
		slot.loader = loader
		slot.ttl = ttl
		if slot.entry.Fresh(c.clock.Now()) {
			entry := slot.entry
			c.mu.Unlock()
			return entry.Value, entry.Err
		}
	}
	c.mu.Unlock()

	if !ok {
		if entry, found := c.restore(ctx, key); found {
			c.mu.Lock()
			if _, raced := c.entries[key]; !raced && !c.closed {
				slot := &cacheSlot[T]{entry: entry, loader: loader, ttl: ttl}
				c.entries[key] = slot
				if entry.Negative() {
					c.armRetryLocked(key, slot, entry.Err, entry.Attempt-1, c.clock.Now().Sub(entry.StoredAt))
				}
			}
			c.mu.Unlock()
			return entry.Value, entry.Err
		}
	}

	return c.load(ctx, key, loader, ttl)
}

// Invalidate drops key regardless of its ttl and cancels any pending retry.
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	if slot, ok := c.entries[key]; ok {
		c.stopRetryLocked(slot)
		delete(c.entries, key)
	}
	c.epochs[key]++
	c.mu.Unlock()

	c.coalescer.Forget(c.coalesceKey(key))
	c.forget(key)
}

// InvalidatePrefix drops every key starting with prefix, including keys
// whose first load is still running.
func (c *TTLCache[T]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	var keys []string
	for key, slot := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.stopRetryLocked(slot)
			delete(c.entries, key)
			c.epochs[key]++
			keys = append(keys, key)
		}
	}
	for key := range c.loading {
		if strings.HasPrefix(key, prefix) && !slices.Contains(keys, key) {
			c.epochs[key]++
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		persisted, err := c.store.Keys(c.life, c.opts.KeyPrefix+prefix)
		if err == nil {
			for _, k := range persisted {
				keys = append(keys, strings.TrimPrefix(k, c.opts.KeyPrefix))
			}
		}
	}
	for _, key := range keys {
		c.coalescer.Forget(c.coalesceKey(key))
		c.forget(key)
	}
}

// GetError returns the kind of the cached failure for key, or "" when the
// current entry is not negative.
func (c *TTLCache[T]) GetError(key string) domain.ErrorKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.entries[key]
	if !ok || !slot.entry.Negative() {
		return ""
	}
	return domain.KindOf(slot.entry.Err)
}

// Entry returns the current entry for key.
func (c *TTLCache[T]) Entry(key string) (domain.CacheEntry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.entries[key]
	if !ok {
		return domain.CacheEntry[T]{}, false
	}
	return slot.entry, true
}

// Close cancels pending retries and the context of in-flight loads; their
// results are discarded. Later Gets fail with domain.ErrDisposed.
func (c *TTLCache[T]) Close() {
	c.mu.Lock()
	c.closed = true
	for _, slot := range c.entries {
		c.stopRetryLocked(slot)
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *TTLCache[T]) coalesceKey(key string) string {
	return "cache:" + c.opts.Name + ":" + key
}

func (c *TTLCache[T]) load(ctx context.Context, key string, loader Loader[T], ttl time.Duration) (T, error) {
	return Coalesce(ctx, c.coalescer, c.coalesceKey(key), func(ctx context.Context) (T, error) {
		c.mu.Lock()
		epoch := c.epochs[key]
		c.loading[key]++
		c.mu.Unlock()

		ctx, cancel := ownedBy(ctx, c.life)
		defer cancel()
		v, err := loader(ctx)
		c.record(key, epoch, loader, ttl, v, err)

		c.mu.Lock()
		if c.loading[key]--; c.loading[key] <= 0 {
			delete(c.loading, key)
		}
		c.mu.Unlock()
		return v, err
	})
}

// record stores the outcome of a load and arms the retry timer on failure.
// Outcomes of loads that started before an Invalidate are discarded.
func (c *TTLCache[T]) record(key string, epoch uint64, loader Loader[T], ttl time.Duration, v T, err error) {
	now := c.clock.Now()

	c.mu.Lock()
	if c.closed || c.epochs[key] != epoch {
		c.mu.Unlock()
		return
	}
	slot, ok := c.entries[key]
	if !ok {
		slot = &cacheSlot[T]{}
		c.entries[key] = slot
	}
	slot.loader = loader
	slot.ttl = ttl
	c.stopRetryLocked(slot)

	if err == nil {
		slot.entry = domain.CacheEntry[T]{Value: v, StoredAt: now, TTL: ttl}
		entry := slot.entry
		c.mu.Unlock()
		c.persist(key, entry)
		return
	}

	attempt := slot.entry.Attempt
	slot.entry = domain.CacheEntry[T]{Err: err, StoredAt: now, TTL: c.opts.NegativeTTL, Attempt: attempt + 1}
	entry := slot.entry

	if !c.armRetryLocked(key, slot, err, attempt, 0) {
		logger.Warn("cache %s: load %q failed (%s): %v", c.opts.Name, key, domain.KindOf(err), err)
	}
	c.mu.Unlock()

	c.persist(key, entry)
}

// retry is the background re-fetch armed after a failure.
func (c *TTLCache[T]) retry(key string, gen uint64) {
	c.mu.Lock()
	slot, ok := c.entries[key]
	if c.closed || !ok || slot.gen != gen || slot.loader == nil {
		c.mu.Unlock()
		return
	}
	slot.retry = nil
	loader, ttl := slot.loader, slot.ttl
	c.mu.Unlock()

	_, _ = c.load(c.life, key, loader, ttl)
}

// armRetryLocked schedules the background re-fetch after the attempt-th
// consecutive failure, less the time already elapsed since it was recorded.
// It reports false when err is not retried.
func (c *TTLCache[T]) armRetryLocked(key string, slot *cacheSlot[T], err error, attempt int, elapsed time.Duration) bool {
	kind := domain.KindOf(err)
	if !kind.Retryable() || attempt < 0 || attempt >= c.opts.MaxRetries {
		return false
	}
	delay := domain.RetryDelay(err, c.opts.BaseDelay, c.opts.MaxDelay, attempt) - elapsed
	if delay < 0 {
		delay = 0
	}
	gen := slot.gen
	slot.retry = c.clock.AfterFunc(delay, func() { c.retry(key, gen) })
	logger.Debug("cache %s: load %q failed (%s), retry %d in %s", c.opts.Name, key, kind, attempt+1, delay)
	return true
}

func (c *TTLCache[T]) stopRetryLocked(slot *cacheSlot[T]) {
	slot.gen++
	if slot.retry != nil {
		slot.retry.Stop()
		slot.retry = nil
	}
}

// persistedEntry is the stored form of a cache entry. The error is kept as
// its kind and message only.
type persistedEntry[T any] struct {
	Value     T                `json:"value"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	StoredAt  time.Time        `json:"stored_at"`
	TTL       domain.Duration  `json:"ttl"`
	Attempt   int              `json:"attempt"`
}

func (c *TTLCache[T]) persist(key string, entry domain.CacheEntry[T]) {
	if c.store == nil {
		return
	}
	p := persistedEntry[T]{
		Value:    entry.Value,
		StoredAt: entry.StoredAt,
		TTL:      domain.Duration(entry.TTL),
		Attempt:  entry.Attempt,
	}
	if entry.Err != nil {
		p.ErrorKind = domain.KindOf(entry.Err)
		p.Error = entry.Err.Error()
	}
	data, err := json.Marshal(p)
	if err != nil {
		logger.Warn("cache %s: encode %q: %v", c.opts.Name, key, err)
		return
	}
	if err := c.store.Set(c.life, c.opts.KeyPrefix+key, data); err != nil {
		logger.Warn("cache %s: persist %q: %v", c.opts.Name, key, err)
	}
}

// restore reads a persisted entry and returns it only if it is still fresh.
func (c *TTLCache[T]) restore(ctx context.Context, key string) (domain.CacheEntry[T], bool) {
	if c.store == nil {
		return domain.CacheEntry[T]{}, false
	}
	data, err := c.store.Get(ctx, c.opts.KeyPrefix+key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("cache %s: restore %q: %v", c.opts.Name, key, err)
		}
		return domain.CacheEntry[T]{}, false
	}
	var p persistedEntry[T]
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Warn("cache %s: decode %q: %v", c.opts.Name, key, err)
		return domain.CacheEntry[T]{}, false
	}
	entry := domain.CacheEntry[T]{
		Value:    p.Value,
		StoredAt: p.StoredAt,
		TTL:      p.TTL.Std(),
		Attempt:  p.Attempt,
	}
	if p.ErrorKind != "" {
		entry.Err = domain.NewRemoteError(p.ErrorKind, "cached "+key, errors.New(p.Error))
	}
	if !entry.Fresh(c.clock.Now()) {
		return domain.CacheEntry[T]{}, false
	}
	return entry, true
}

func (c *TTLCache[T]) forget(key string) {
	if c.store == nil {
		return
	}
	if err := c.store.Remove(c.life, c.opts.KeyPrefix+key); err != nil {
		logger.Warn("cache %s: remove %q: %v", c.opts.Name, key, err)
	}
}

// Ensure ResourceCache implements the interface.
var _ driving.ProfileCache = (*ResourceCache)(nil)

// ResourceCache caches remote data service reads such as profiles and
// session details.
type ResourceCache struct {
	remote driven.RemoteClient
	cache  *TTLCache[json.RawMessage]
}

// NewResourceCache creates a cache over remote.Fetch.
func NewResourceCache(remote driven.RemoteClient, cache *TTLCache[json.RawMessage]) *ResourceCache {
	return &ResourceCache{remote: remote, cache: cache}
}

// Get returns the resource through the TTL cache.
func (r *ResourceCache) Get(ctx context.Context, resource string, ttl time.Duration) (json.RawMessage, error) {
	v, err := r.cache.Get(ctx, resource, func(ctx context.Context) (json.RawMessage, error) {
		return r.remote.Fetch(ctx, resource)
	}, ttl)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", resource, err)
	}
	return v, nil
}

// Invalidate drops the cached resource.
func (r *ResourceCache) Invalidate(resource string) {
	r.cache.Invalidate(resource)
}

// InvalidatePrefix drops every cached resource under prefix.
func (r *ResourceCache) InvalidatePrefix(prefix string) {
	r.cache.InvalidatePrefix(prefix)
}

// GetError returns the kind of the cached failure for resource.
func (r *ResourceCache) GetError(resource string) domain.ErrorKind {
	return r.cache.GetError(resource)
}

// Close stops background retries.
func (r *ResourceCache) Close() {
	r.cache.Close()
}
