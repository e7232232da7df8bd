package cacher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher is an in-process Cacher on go-cache. Concurrent misses for the
// same key share one fetch through singleflight.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

var _ Cacher[int] = (*MemoryCacher[int])(nil)

// NewMemoryCacher creates a MemoryCacher.
//
// Parameters:
//   - defaultExpiration: TTL used when Set or GetOrFetch is given cache.DefaultExpiration
//   - cleanupInterval: How often expired items are purged
//
// Returns:
//   - A new *MemoryCacher
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{
		cache: cache.New(defaultExpiration, cleanupInterval),
	}
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	var zero T

	v, found := c.cache.Get(key)
	if !found {
		return zero, false
	}

	typed, ok := v.(T)
	return typed, ok
}

// Get implements Cacher.
func (c *MemoryCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	v, ok := c.lookup(key)
	return v, ok, nil
}

// Set implements Cacher.
func (c *MemoryCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Set(key, value, memoryTTL(ttl))
	return nil
}

// memoryTTL maps "no expiry" onto go-cache's constant.
func memoryTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return cache.NoExpiration
	}

	return ttl
}

// GetOrFetch implements Cacher.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// The winner of a previous flight may have stored it meanwhile.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		c.cache.Set(key, fetched, memoryTTL(ttl))
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type %T in cache for key %s", v, key)
	}

	return typed, nil
}

// Delete implements Cacher.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// Keys implements Cacher. Expired items not yet purged are skipped.
func (c *MemoryCacher[T]) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// DeleteByPrefix implements Cacher.
func (c *MemoryCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		c.cache.Delete(key)
		deleted++
	}

	return deleted, nil
}

// ItemCount returns the number of cached items, including expired ones not
// yet purged.
func (c *MemoryCacher[T]) ItemCount() int {
	return c.cache.ItemCount()
}
