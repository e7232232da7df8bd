// Package discovery adapts a service browse primitive into streams. The
// primitive reports the full result set together with the change set that
// produced it; the Browser fans the changes out to found, removed and changed
// streams and keeps the latest full set as a current value.
package discovery

import (
	"github.com/cyberinferno/netstream/logger"
	"github.com/cyberinferno/netstream/metrics"
	"github.com/cyberinferno/netstream/queue"
	"github.com/cyberinferno/netstream/stream"
)

// Primitive is the browse object a Browser wraps. Handlers run on the
// executor given to Start.
type Primitive interface {
	Start(exec queue.Executor)
	Cancel()

	// SetResultsChangedHandler registers the callback receiving the complete
	// current result set and the changes since the previous call.
	SetResultsChangedHandler(handler func(results []Result, changes []Change))
	SetStateUpdateHandler(handler func(State))
}

// Option configures a Browser.
type Option func(*Browser)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Browser) {
		b.log = l
	}
}

// WithMetrics sets the collectors the browser updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Browser) {
		b.metrics = m
	}
}

// Browser is the stream adapter over one browse Primitive.
type Browser struct {
	prim    Primitive
	log     logger.Logger
	metrics *metrics.Metrics

	found    *stream.Broadcast[Result]
	removed  *stream.Broadcast[Result]
	changed  *stream.Broadcast[ChangeEvent]
	services *stream.Value[Snapshot]
	state    *stream.Value[State]
}

// NewBrowser wraps p and installs the browser as its handler.
//
// Parameters:
//   - p: The browse primitive
//   - opts: Optional logger and metrics
//
// Returns:
//   - A *Browser in the Setup state with an empty snapshot
func NewBrowser(p Primitive, opts ...Option) *Browser {
	b := &Browser{
		prim:     p,
		log:      logger.NewNopLogger(),
		found:    stream.NewBroadcast[Result](),
		removed:  stream.NewBroadcast[Result](),
		changed:  stream.NewBroadcast[ChangeEvent](),
		services: stream.NewValue(NewSnapshot(nil)),
		state:    stream.NewValue(StateOf(Setup)),
	}

	for _, opt := range opts {
		opt(b)
	}

	p.SetResultsChangedHandler(b.resultsChanged)
	p.SetStateUpdateHandler(b.stateChanged)

	return b
}

// Start begins browsing; events are delivered on exec.
func (b *Browser) Start(exec queue.Executor) { b.prim.Start(exec) }

// Cancel stops browsing.
func (b *Browser) Cancel() { b.prim.Cancel() }

// DidFind delivers services as they appear.
func (b *Browser) DidFind() stream.Stream[Result] { return b.found.Stream() }

// DidRemove delivers services as they disappear.
func (b *Browser) DidRemove() stream.Stream[Result] { return b.removed.Stream() }

// DidChange delivers services whose metadata or interfaces changed.
func (b *Browser) DidChange() stream.Stream[ChangeEvent] { return b.changed.Stream() }

// Services is the full current result set, updated after each change set.
func (b *Browser) Services() stream.ValueStream[Snapshot] { return b.services.ReadOnly() }

// Snapshot returns the current result set.
func (b *Browser) Snapshot() Snapshot { return b.services.Value() }

// StateUpdate is the browse state. Consecutive identical states are reported
// once.
func (b *Browser) StateUpdate() stream.ValueStream[State] { return b.state.ReadOnly() }

func (b *Browser) resultsChanged(results []Result, changes []Change) {
	for _, c := range changes {
		b.metrics.ObserveServiceChange(c.Kind.String())

		switch c.Kind {
		case ChangeAdded:
			b.log.Debug("service found", logger.Field{Key: "service", Value: c.Result.Key()})
			b.found.Emit(c.Result)
		case ChangeRemoved:
			b.log.Debug("service removed", logger.Field{Key: "service", Value: c.Result.Key()})
			b.removed.Emit(c.Result)
		case ChangeChanged:
			flags := FlagsFromNative(c.Flags)
			b.log.Debug("service changed",
				logger.Field{Key: "service", Value: c.New.Key()},
				logger.Field{Key: "flags", Value: flags.String()},
			)
			b.changed.Emit(ChangeEvent{Old: c.Old, New: c.New, Flags: flags})
		}
	}

	b.services.Set(NewSnapshot(results))
}

func (b *Browser) stateChanged(st State) {
	if b.state.Value().Equal(st) {
		return
	}

	if st.Kind == Failed {
		b.log.Error("browse failed", logger.ErrorField(st.Err))
	} else {
		b.log.Info("browse state changed", logger.Field{Key: "state", Value: st.String()})
	}

	b.state.Set(st)
}
