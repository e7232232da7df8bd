package stream

import "github.com/cyberinferno/netstream/registry"

// Broadcast is a hot, multi-consumer channel with no replay. Each emitted value
// is delivered synchronously, in the emitting goroutine, to every consumer
// subscribed at that moment. Delivery order across consumers is unspecified.
//
// The owner keeps the *Broadcast and hands out Stream() to consumers so that
// only the owner can emit.
type Broadcast[T any] struct {
	subs *registry.Registry[func(T)]
}

// NewBroadcast returns a Broadcast with no subscribers.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{subs: registry.New[func(T)]()}
}

type subscriber[T any] struct {
	id uint32
	fn func(T)
}

// Emit delivers v to the subscribers registered when Emit is called.
// Subscribers added during delivery do not see v; subscribers cancelled
// during delivery are skipped if not yet reached.
//
// Parameters:
//   - v: The value to deliver
func (b *Broadcast[T]) Emit(v T) {
	subs := make([]subscriber[T], 0, b.subs.Len())
	b.subs.Range(func(id uint32, fn func(T)) bool {
		subs = append(subs, subscriber[T]{id: id, fn: fn})
		return true
	})

	for _, s := range subs {
		if _, live := b.subs.Get(s.id); live {
			s.fn(v)
		}
	}
}

// Subscribe registers fn for subsequent emissions. Values emitted before the
// call are not seen.
//
// Parameters:
//   - fn: Consumer invoked with each emitted value
//
// Returns:
//   - A Subscription that removes fn when cancelled
func (b *Broadcast[T]) Subscribe(fn func(T)) Subscription {
	id := b.subs.Add(fn)
	return once(func() { b.subs.Remove(id) })
}

// Stream returns a subscribe-only view of b.
func (b *Broadcast[T]) Stream() Stream[T] {
	return Func[T](b.Subscribe)
}

// Len returns the number of live subscribers.
func (b *Broadcast[T]) Len() int {
	return b.subs.Len()
}
