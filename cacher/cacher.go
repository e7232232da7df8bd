// Package cacher provides keyed caches with fetch-on-miss. The directory
// package stores discovered services in one; MemoryCacher serves a single
// process and the redis implementation lets several processes share what
// each of them browsed.
package cacher

import (
	"context"
	"time"
)

// FetchFunc produces the value for a missing key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher is a keyed cache. Implementations are safe for concurrent use and
// run at most one fetch per missing key at a time.
type Cacher[T any] interface {
	// Get returns the cached value for key and whether it was found.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores value under key for ttl. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// GetOrFetch returns the cached value for key, or calls fetchFn once and
	// stores its result for ttl.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key
	//   - ttl: Time-to-live of a fetched value
	//   - fetchFn: Called on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the cache or fetchFn fails; failed fetches are not cached
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns the keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// DeleteByPrefix removes every key starting with prefix.
	//
	// Returns:
	//   - The number of keys removed
	//   - An error if the operation fails or ctx is cancelled part way
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}
