// Package binder lets an object consume stream events without the stream
// keeping the object alive. A Binder holds only a weak pointer to its target
// and delivers each event on a chosen executor; once the target has been
// collected, events are dropped silently.
package binder

import (
	"sync"
	"weak"

	"github.com/cyberinferno/netstream/queue"
	"github.com/cyberinferno/netstream/stream"
)

// Binder dispatches events of type In to a method-like function on a target
// of type T. The bind function receives the target as its first argument and
// must not capture the target itself, otherwise the weak reference is moot.
type Binder[T any, In any] struct {
	target weak.Pointer[T]
	exec   queue.Executor
	bind   func(*T, In)

	mu        sync.Mutex
	sub       stream.Subscription
	cancelled bool
}

// New creates a Binder for target.
//
// Parameters:
//   - target: Object the events are delivered to; held weakly
//   - exec: Executor each delivery is scheduled on
//   - bind: Called as bind(target, input) on exec while target is alive
//
// Returns:
//   - A Binder that is not yet subscribed to anything; see Bind
func New[T any, In any](target *T, exec queue.Executor, bind func(*T, In)) *Binder[T, In] {
	return &Binder[T, In]{
		target: weak.Make(target),
		exec:   exec,
		bind:   bind,
	}
}

// Receive schedules delivery of in to the target. The target is looked up
// again when the scheduled work runs.
func (b *Binder[T, In]) Receive(in In) {
	if b.isCancelled() || b.target.Value() == nil {
		return
	}

	b.exec.Execute(func() {
		if b.isCancelled() {
			return
		}

		if t := b.target.Value(); t != nil {
			b.bind(t, in)
		}
	})
}

// Handler returns Receive as a plain function, for use with stream.Tap.
func (b *Binder[T, In]) Handler() func(In) {
	return b.Receive
}

// Alive reports whether the target has not been collected yet.
func (b *Binder[T, In]) Alive() bool {
	return b.target.Value() != nil
}

// Cancel releases the upstream subscription and stops further deliveries,
// including ones already scheduled. It is idempotent.
func (b *Binder[T, In]) Cancel() {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.cancelled = true
	b.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

func (b *Binder[T, In]) isCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Bind subscribes b to s and keeps the subscription inside b, so cancelling
// the returned Subscription (the binder itself) detaches it from s.
//
// Parameters:
//   - s: Source stream
//   - b: Binder to feed
//
// Returns:
//   - b, as a Subscription
func Bind[T any, In any](s stream.Stream[In], b *Binder[T, In]) stream.Subscription {
	sub := s.Subscribe(b.Receive)

	b.mu.Lock()
	if b.cancelled {
		b.mu.Unlock()
		sub.Cancel()
		return b
	}
	if b.sub != nil {
		b.sub.Cancel()
	}
	b.sub = sub
	b.mu.Unlock()

	return b
}
