// Package mdnsbrowse provides a discovery.Primitive that browses DNS-SD
// services over multicast DNS using zeroconf.
package mdnsbrowse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/cyberinferno/netstream/discovery"
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/queue"
)

// Config holds configuration for a Browser.
type Config struct {
	// Service is the DNS-SD service type, e.g. "_http._tcp".
	Service string
	// Domain is the browse domain.
	Domain string
	// SweepInterval is how often expired services are removed.
	SweepInterval time.Duration
	// Interfaces restricts multicast to these interfaces; empty means all.
	Interfaces []net.Interface
	// IPv4Only disables IPv6 multicast.
	IPv4Only bool
}

// DefaultConfig returns a Config browsing service in the "local" domain.
func DefaultConfig(service string) Config {
	return Config{
		Service:       service,
		Domain:        "local",
		SweepInterval: time.Second,
	}
}

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

var _ discovery.Primitive = (*Browser)(nil)

// Browser is a discovery.Primitive over zeroconf. Each announcement is
// reported as a change set of one; expired services are reported removed on
// the next sweep.
type Browser struct {
	cfg    Config
	log    logger.Logger
	browse browseFunc
	now    func() time.Time

	mu        sync.Mutex
	exec      queue.Executor
	cancel    context.CancelFunc
	cancelled bool
	onResults func([]discovery.Result, []discovery.Change)
	onState   func(discovery.State)
}

// New creates a Browser.
//
// Parameters:
//   - cfg: Service, domain and sweep settings (e.g. from DefaultConfig)
//   - log: Logger for browse events; nil discards
//
// Returns:
//   - A *Browser that starts browsing on Start
func New(cfg Config, log logger.Logger) *Browser {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}

	return &Browser{
		cfg:    cfg,
		log:    log.With(logger.Field{Key: "service", Value: cfg.Service}),
		browse: zeroconf.Browse,
		now:    time.Now,
	}
}

// SetResultsChangedHandler implements discovery.Primitive.
func (b *Browser) SetResultsChangedHandler(handler func([]discovery.Result, []discovery.Change)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onResults = handler
}

// SetStateUpdateHandler implements discovery.Primitive.
func (b *Browser) SetStateUpdateHandler(handler func(discovery.State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onState = handler
}

// Start implements discovery.Primitive. Starting twice has no effect.
func (b *Browser) Start(exec queue.Executor) {
	if exec == nil {
		exec = queue.Immediate
	}

	b.mu.Lock()
	if b.cancel != nil || b.cancelled {
		b.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.exec = exec
	b.cancel = cancel
	b.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry)
	go b.run(ctx, entries)

	b.report(discovery.StateOf(discovery.Ready))
	go func() {
		err := b.browse(ctx, b.cfg.Service, b.cfg.Domain, entries, b.clientOptions()...)
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			b.log.Error("browse failed", logger.ErrorField(err))
			b.report(discovery.State{Kind: discovery.Failed, Err: fmt.Errorf("browse %s: %w", b.cfg.Service, err)})
		}
	}()
}

func (b *Browser) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if len(b.cfg.Interfaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(b.cfg.Interfaces))
	}

	if b.cfg.IPv4Only {
		opts = append(opts, zeroconf.SelectIPTraffic(zeroconf.IPv4))
	}

	return opts
}

// Cancel implements discovery.Primitive. A change set already handed to the
// executor may still be delivered after the Cancelled state.
func (b *Browser) Cancel() {
	b.mu.Lock()
	if b.cancelled {
		b.mu.Unlock()
		return
	}

	b.cancelled = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	b.log.Info("browse cancelled")
	b.report(discovery.StateOf(discovery.Cancelled))
}

func (b *Browser) run(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	t := newTracker()
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}

			r := resultFromEntry(e)
			b.log.Debug("announcement", logger.Field{Key: "instance", Value: r.Key()})
			b.publish(ctx, t.results, t.observe(r, e.Expiry, b.now()))
		case <-ticker.C:
			b.publish(ctx, t.results, t.expire(b.now()))
		}
	}
}

func (b *Browser) publish(ctx context.Context, results func() []discovery.Result, changes []discovery.Change) {
	if len(changes) == 0 || ctx.Err() != nil {
		return
	}

	snapshot := results()

	b.mu.Lock()
	exec, handler := b.exec, b.onResults
	b.mu.Unlock()

	if handler != nil {
		exec.Execute(func() { handler(snapshot, changes) })
	}
}

func (b *Browser) report(st discovery.State) {
	b.mu.Lock()
	exec, handler := b.exec, b.onState
	b.mu.Unlock()

	if exec == nil {
		exec = queue.Immediate
	}

	if handler != nil {
		exec.Execute(func() { handler(st) })
	}
}
