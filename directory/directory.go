// Package directory mirrors the services seen by a discovery.Browser into a
// cacher.Cacher, so they can be resolved by key or listed later, possibly by
// another process sharing the same redis.
//
// The directory consumes the browser's streams through weak binders: the
// browser never keeps a Directory alive.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cyberinferno/netstream/binder"
	"github.com/cyberinferno/netstream/cacher"
	"github.com/cyberinferno/netstream/discovery"
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/queue"
	"github.com/cyberinferno/netstream/stream"
)

// ErrNotFound is returned by Resolve for a service that is neither cached nor
// part of the browser's current snapshot.
var ErrNotFound = errors.New("directory: service not found")

// Config holds configuration for a Directory.
type Config struct {
	// Prefix is prepended to Result.Key() to form cache keys.
	Prefix string
	// TTL is the expiry of cached entries; 0 keeps them until removed.
	TTL time.Duration
	// OpTimeout bounds each cache write made in response to a browse event.
	OpTimeout time.Duration
}

// DefaultConfig returns a Config for services of serviceType.
//
// Parameters:
//   - serviceType: DNS-SD service type, e.g. "_http._tcp"
//
// Returns:
//   - A Config with Prefix "netstream:services:<serviceType>:", no TTL and a
//     5s OpTimeout
func DefaultConfig(serviceType string) Config {
	return Config{
		Prefix:    "netstream:services:" + serviceType + ":",
		OpTimeout: 5 * time.Second,
	}
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Directory) {
		d.log = l
	}
}

// WithExecutor sets where browse events are applied to the cache. The
// default applies them on the browser's own executor.
func WithExecutor(exec queue.Executor) Option {
	return func(d *Directory) {
		d.exec = exec
	}
}

// Directory keeps a cache in step with one browser.
type Directory struct {
	cfg    Config
	source *discovery.Browser
	cache  cacher.Cacher[discovery.Result]
	log    logger.Logger
	exec   queue.Executor

	subs []stream.Subscription
}

// New creates a Directory and binds it to b's found, removed and changed
// streams. Services already in b's snapshot are only cached after Sync.
//
// Parameters:
//   - b: Browser to follow
//   - c: Cache to write to
//   - cfg: Key prefix and timeouts (e.g. from DefaultConfig)
//   - opts: Optional logger and executor
//
// Returns:
//   - A bound *Directory; call Close to detach it
func New(b *discovery.Browser, c cacher.Cacher[discovery.Result], cfg Config, opts ...Option) *Directory {
	d := &Directory{
		cfg:    cfg,
		source: b,
		cache:  c,
		log:    logger.NewNopLogger(),
		exec:   queue.Immediate,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.log = d.log.With(logger.Field{Key: "prefix", Value: cfg.Prefix})

	d.subs = []stream.Subscription{
		binder.Bind(b.DidFind(), binder.New(d, d.exec, (*Directory).found)),
		binder.Bind(b.DidRemove(), binder.New(d, d.exec, (*Directory).removed)),
		binder.Bind(b.DidChange(), binder.New(d, d.exec, (*Directory).changed)),
	}

	return d
}

func (d *Directory) key(r discovery.Result) string {
	return d.cfg.Prefix + r.Key()
}

func (d *Directory) opContext() (context.Context, context.CancelFunc) {
	if d.cfg.OpTimeout <= 0 {
		return context.WithCancel(context.Background())
	}

	return context.WithTimeout(context.Background(), d.cfg.OpTimeout)
}

func (d *Directory) found(r discovery.Result) {
	d.store(r)
}

func (d *Directory) changed(e discovery.ChangeEvent) {
	if e.Old.Key() != e.New.Key() {
		d.drop(e.Old)
	}

	d.store(e.New)
}

func (d *Directory) removed(r discovery.Result) {
	d.drop(r)
}

func (d *Directory) store(r discovery.Result) {
	ctx, cancel := d.opContext()
	defer cancel()

	if err := d.cache.Set(ctx, d.key(r), r, d.cfg.TTL); err != nil {
		d.log.Error("failed to cache service",
			logger.Field{Key: "service", Value: r.Key()}, logger.ErrorField(err))
	}
}

func (d *Directory) drop(r discovery.Result) {
	ctx, cancel := d.opContext()
	defer cancel()

	if err := d.cache.Delete(ctx, d.key(r)); err != nil {
		d.log.Error("failed to remove service",
			logger.Field{Key: "service", Value: r.Key()}, logger.ErrorField(err))
	}
}

// Sync makes the cache match the browser's current snapshot: every service
// in it is written and cached services missing from it are deleted.
//
// Returns:
//   - The first cache error, wrapped
func (d *Directory) Sync(ctx context.Context) error {
	snap := d.source.Snapshot()

	for _, r := range snap.Results() {
		if err := d.cache.Set(ctx, d.key(r), r, d.cfg.TTL); err != nil {
			return fmt.Errorf("sync %s: %w", r.Key(), err)
		}
	}

	keys, err := d.cache.Keys(ctx, d.cfg.Prefix)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	for _, key := range keys {
		if snap.Contains(strings.TrimPrefix(key, d.cfg.Prefix)) {
			continue
		}

		if err := d.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("sync %s: %w", key, err)
		}
	}

	return nil
}

// Resolve returns the service stored under key, a Result.Key(). On a cache
// miss the browser's current snapshot is consulted and the hit is cached.
//
// Returns:
//   - The service, ErrNotFound, or a cache error
func (d *Directory) Resolve(ctx context.Context, key string) (discovery.Result, error) {
	return d.cache.GetOrFetch(ctx, d.cfg.Prefix+key, d.cfg.TTL, func(context.Context) (discovery.Result, error) {
		if r, ok := d.source.Snapshot().Get(key); ok {
			return r, nil
		}

		return discovery.Result{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	})
}

// List returns the cached services ordered by key.
func (d *Directory) List(ctx context.Context) ([]discovery.Result, error) {
	keys, err := d.cache.Keys(ctx, d.cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	out := make([]discovery.Result, 0, len(keys))
	for _, key := range keys {
		r, ok, err := d.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", key, err)
		}
		if ok {
			out = append(out, r)
		}
	}

	slices.SortFunc(out, func(a, b discovery.Result) int { return strings.Compare(a.Key(), b.Key()) })
	return out, nil
}

// Close detaches the directory from the browser. When purge is set the
// cached services are deleted as well.
//
// Returns:
//   - The number of entries deleted and any cache error
func (d *Directory) Close(ctx context.Context, purge bool) (int, error) {
	for _, sub := range d.subs {
		sub.Cancel()
	}
	d.subs = nil

	if !purge {
		return 0, nil
	}

	n, err := d.cache.DeleteByPrefix(ctx, d.cfg.Prefix)
	if err != nil {
		return n, fmt.Errorf("purge: %w", err)
	}

	return n, nil
}
