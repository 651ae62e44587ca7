// Copyright 2025 MCP Gateway Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides the keyed cache primitive (spec component C) used
// by the aggregation services: a value per key, optionally time-bounded,
// with singleflight-collapsed fills so concurrent misses for the same key
// trigger one upstream fetch instead of one per caller.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a keyed map of values of type V with optional per-entry expiry.
// Zero value is not usable; use New.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	ttl     time.Duration // zero means entries never expire on their own
	group   singleflight.Group
}

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

// New returns an empty cache. ttl of zero disables time-based expiry;
// entries then live until explicitly invalidated.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]entry[V]),
		ttl:     ttl,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, resetting its expiry window.
func (c *Cache[K, V]) Set(key K, value V) {
	e := entry[V]{value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Invalidate drops key. It is idempotent: invalidating an absent key is a no-op.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry, e.g. on session close.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.mu.Unlock()
}

// GetOrLoad returns the cached value for key if present, otherwise calls
// load to compute it, caching and returning the result. Concurrent
// GetOrLoad calls that miss on the same key collapse into a single call
// to load (singleflight) so a cold cache under concurrent readers performs
// exactly one upstream fetch.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	// singleflight.Group is keyed by string; K is usually a string or
	// small struct/tuple, so %v gives a stable, unique key per value.
	sfKey := fmt.Sprintf("%v", key)
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return loaded, err
		}
		c.Set(key, loaded)
		return loaded, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}
