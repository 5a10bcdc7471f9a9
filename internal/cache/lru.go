// Package cache implements the read-through, LRU-with-TTL caches described
// in spec §4.2, extending the teacher's TTL-only cache shape with a
// bounded eviction list and per-key single-flight loading.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is one cached value plus its expiration and its position in the
// LRU eviction list.
type entry[K comparable, V any] struct {
	key        K
	value      V
	expiration time.Time
	listElem   *list.Element
}

// Loader fetches a fresh value for key when the cache misses.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Config controls an LRU's bounded size and default TTL.
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// LRU is a generic read-through cache: bounded by MaxSize entries (evicting
// least-recently-used on overflow), each entry additionally expiring after
// TTL, with concurrent loads for the same key coalesced via singleflight
// (§5 "Shared Resources": "loaders may be concurrent across keys").
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	order   *list.List
	cfg     Config
	loader  Loader[K, V]
	group   singleflight.Group
}

// New builds an LRU cache backed by loader for misses.
func New[K comparable, V any](cfg Config, loader Loader[K, V]) *LRU[K, V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	return &LRU[K, V]{
		entries: make(map[K]*entry[K, V]),
		order:   list.New(),
		cfg:     cfg,
		loader:  loader,
	}
}

// Get returns the cached value for key, loading it through loader on a
// miss or expiry. Concurrent Get calls for the same key share one load.
func (c *LRU[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.peek(key); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(fmt.Sprintf("%v", key), func() (interface{}, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := c.loader(ctx, key)
		if err != nil {
			var zero V
			return zero, err
		}
		c.Set(key, v)
		return v, nil
	})

	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// peek returns the cached value without triggering a load, touching its
// LRU recency on hit.
func (c *LRU[K, V]) peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiration) {
		c.removeLocked(e)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(e.listElem)
	return e.value, true
}

// Set inserts or refreshes key's cached value, evicting the least-recently
// used entry if the cache is at capacity.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.expiration = time.Now().Add(c.cfg.TTL)
		c.order.MoveToFront(existing.listElem)
		return
	}

	e := &entry[K, V]{key: key, value: value, expiration: time.Now().Add(c.cfg.TTL)}
	e.listElem = c.order.PushFront(e)
	c.entries[key] = e

	if c.order.Len() > c.cfg.MaxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest.Value.(*entry[K, V]))
		}
	}
}

// Invalidate drops key from the cache, forcing the next Get to reload.
func (c *LRU[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

func (c *LRU[K, V]) removeLocked(e *entry[K, V]) {
	c.order.Remove(e.listElem)
	delete(c.entries, e.key)
}

// Size reports the current entry count.
func (c *LRU[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
