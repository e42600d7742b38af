/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache is a read-through, single-flighted, byte-budgeted LRU
// in front of an immutable-artifact backend (S3 by default). A Get
// call that already holds a fresh local copy revalidates it with the
// backend's ETag before trusting it, rather than serving a
// potentially-stale value outright.
package cache

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kuadrant/fleetwatch/internal/metrics"
)

// Backend fetches one object's bytes, conditionally on ifNoneMatch
// (empty string means "always fetch"). notModified is true only when
// ifNoneMatch was non-empty and the backend's current ETag still
// matches it.
type Backend interface {
	Get(ctx context.Context, key string, ifNoneMatch string) (data []byte, etag string, notModified bool, err error)
}

// Instantiate turns raw bytes into the cached value T, reporting the
// byte size that value should count against the cache's budget (which
// may differ from len(data) for a decoded/expanded representation).
type Instantiate[T any] func(data []byte) (value T, byteLen int, err error)

type entry[T any] struct {
	key     string
	value   T
	byteLen int
	etag    string
}

// Cache is a single-flighted, byte-budgeted LRU cache of artifacts
// fetched from Backend, keyed by an optional shared prefix plus a
// per-call id. prefix is a pointer so that "no prefix" (nil) and "an
// empty-string prefix" (non-nil, pointing at "") build different
// keys: the former yields a bare id, the latter a leading slash.
type Cache[T any] struct {
	backend   Backend
	prefix    *string
	cacheSize int

	mu    sync.Mutex
	ll    *list.List // front is newest, back is oldest
	index map[string]*list.Element

	sf singleflight.Group
}

// New builds a Cache. prefix is nil for "no prefix"; pass a pointer to
// an empty string to get the `/id` keying the absent-prefix case does
// not produce.
func New[T any](backend Backend, prefix *string, cacheSize int) *Cache[T] {
	return &Cache[T]{
		backend:   backend,
		prefix:    prefix,
		cacheSize: cacheSize,
		ll:        list.New(),
		index:     map[string]*list.Element{},
	}
}

func (c *Cache[T]) buildKey(id string) string {
	if c.prefix == nil {
		return id
	}
	return *c.prefix + "/" + id
}

func (c *Cache[T]) tryHitCache(key string) (entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return entry[T]{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(entry[T]), true
}

// putToCache installs newEntry as the freshest entry, then evicts from
// the tail until the running byte total is back within cacheSize —
// the exact scan-and-drain shape of the Rust original, rather than
// evicting one entry per insert.
func (c *Cache[T]) putToCache(newEntry entry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[newEntry.key]; ok {
		c.ll.Remove(el)
		delete(c.index, newEntry.key)
	}
	c.index[newEntry.key] = c.ll.PushFront(newEntry)

	cachedBytes := 0
	for el := c.ll.Front(); el != nil; {
		e := el.Value.(entry[T])
		cachedBytes += e.byteLen
		next := el.Next()
		if cachedBytes > c.cacheSize {
			cachedBytes -= e.byteLen
			for drop := el; drop != nil; {
				dropNext := drop.Next()
				delete(c.index, drop.Value.(entry[T]).key)
				c.ll.Remove(drop)
				drop = dropNext
			}
			break
		}
		el = next
	}
	metrics.CacheBytesInUse.Set(float64(cachedBytes))
}

func (c *Cache[T]) fetchAndCache(ctx context.Context, key string, ifNoneMatch string, instantiate Instantiate[T]) (T, error) {
	var zero T

	data, etag, _, err := c.backend.Get(ctx, key, ifNoneMatch)
	if err != nil {
		return zero, err
	}

	value, byteLen, err := instantiate(data)
	if err != nil {
		return zero, err
	}

	c.putToCache(entry[T]{key: key, value: value, byteLen: byteLen, etag: etag})
	return value, nil
}

func (c *Cache[T]) onLocalCacheHit(ctx context.Context, cached entry[T], instantiate Instantiate[T]) (T, error) {
	var zero T

	data, etag, notModified, err := c.backend.Get(ctx, cached.key, cached.etag)
	if err != nil {
		return zero, err
	}
	if notModified {
		metrics.CacheHits.WithLabelValues("revalidated").Inc()
		return cached.value, nil
	}

	value, byteLen, err := instantiate(data)
	if err != nil {
		return zero, err
	}
	c.putToCache(entry[T]{key: cached.key, value: value, byteLen: byteLen, etag: etag})
	metrics.CacheHits.WithLabelValues("stale").Inc()
	return value, nil
}

func (c *Cache[T]) onLocalCacheMiss(ctx context.Context, key string, instantiate Instantiate[T]) (T, error) {
	metrics.CacheHits.WithLabelValues("miss").Inc()
	return c.fetchAndCache(ctx, key, "", instantiate)
}

// Get returns the cached value for id, revalidating against Backend
// if already held locally and fetching fresh otherwise. Concurrent
// calls for the same id are single-flighted: only one backend fetch
// is in progress at a time per key, and every caller waiting on it
// receives that fetch's own result or error.
func (c *Cache[T]) Get(ctx context.Context, id string, instantiate Instantiate[T]) (T, error) {
	key := c.buildKey(id)

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if e, ok := c.tryHitCache(key); ok {
			return c.onLocalCacheHit(ctx, e, instantiate)
		}
		return c.onLocalCacheMiss(ctx, key, instantiate)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
