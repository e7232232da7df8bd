package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL         = 30 * time.Second
	waitTimeout     = 30 * time.Second
	initialWait     = 10 * time.Millisecond
	maxWaitInterval = 500 * time.Millisecond
)

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisCacher is a Cacher on Redis. Values are stored as JSON. A miss is
// fetched by whichever process wins a SETNX lock on "<key>:lock"; the others
// poll until the value appears or the lock disappears.
type RedisCacher[T any] struct {
	client redis.UniversalClient
}

var _ Cacher[int] = (*RedisCacher[int])(nil)

// NewRedisCacher creates a RedisCacher on client.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	services := cacher.NewRedisCacher[discovery.Result](client)
func NewRedisCacher[T any](client redis.UniversalClient) *RedisCacher[T] {
	return &RedisCacher[T]{client: client}
}

func decode[T any](raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, fmt.Errorf("unmarshal cached value: %w", err)
	}

	return v, nil
}

// Get implements Cacher.
func (c *RedisCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	v, err := decode[T](raw)
	if err != nil {
		return zero, false, err
	}

	return v, true, nil
}

// Set implements Cacher.
func (c *RedisCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// GetOrFetch implements Cacher. The lock is extended while fetchFn runs and
// released only by its owner.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok, err := c.Get(ctx, key); err != nil || ok {
		return v, err
	}

	lockKey := key + ":lock"
	owner := uuid.NewString()

	acquired, err := c.client.SetNX(ctx, lockKey, owner, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}

	if !acquired {
		return c.waitFor(ctx, key, lockKey)
	}

	defer releaseScript.Run(context.Background(), c.client, []string{lockKey}, owner)

	extendCtx, stopExtending := context.WithCancel(context.Background())
	defer stopExtending()
	go c.extendLock(extendCtx, lockKey, owner)

	v, err := fetchFn(ctx)
	if err != nil {
		return zero, fmt.Errorf("fetch %s: %w", key, err)
	}

	if err := c.Set(context.Background(), key, v, ttl); err != nil {
		return zero, err
	}

	return v, nil
}

func (c *RedisCacher[T]) extendLock(ctx context.Context, lockKey, owner string) {
	ticker := time.NewTicker(lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendScript.Run(ctx, c.client, []string{lockKey}, owner, lockTTL.Milliseconds())
		}
	}
}

// waitFor polls with exponential backoff until another process has stored
// key, gave up on it (the lock is gone), or waitTimeout passes.
func (c *RedisCacher[T]) waitFor(ctx context.Context, key, lockKey string) (T, error) {
	var zero T

	backoff := initialWait
	deadline := time.Now().Add(waitTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if time.Now().After(deadline) {
			return zero, fmt.Errorf("timeout waiting for %s", key)
		}

		if v, ok, err := c.Get(ctx, key); err != nil || ok {
			return v, err
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("check lock %s: %w", lockKey, err)
		}

		if exists == 0 {
			if v, ok, err := c.Get(ctx, key); err != nil || ok {
				return v, err
			}

			return zero, fmt.Errorf("fetch of %s failed in another process", key)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxWaitInterval)
	}
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}

	return nil
}

// Keys implements Cacher using SCAN. Fetch locks are not reported.
func (c *RedisCacher[T]) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if key := iter.Val(); !strings.HasSuffix(key, ":lock") {
			keys = append(keys, key)
		}
	}

	if err := iter.Err(); err != nil {
		return keys, fmt.Errorf("scan %s*: %w", prefix, err)
	}

	return keys, nil
}

// DeleteByPrefix implements Cacher.
func (c *RedisCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del %d keys: %w", len(keys), err)
	}

	return int(deleted), nil
}
