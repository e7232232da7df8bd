package stream

import "sync"

// ValueStream is a read-only view of a Value: the current value plus a stream
// that replays it to each new subscriber.
type ValueStream[T any] interface {
	Stream[T]

	// Value returns the most recently set value.
	Value() T
}

// Value is a hot channel holding a current value. New subscribers receive the
// current value synchronously on Subscribe, then every later Set.
//
// A Value is a set of three closures (set, get, subscribe). Child and
// NewDerived build values that share those closures instead of copying state,
// so writes through any linked view are observed through all of them.
type Value[T any] struct {
	set       func(T)
	get       func() T
	subscribe func(func(T)) Subscription
}

// NewValue returns a root Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	c := &valueCell[T]{value: initial, b: NewBroadcast[T]()}
	return &Value[T]{set: c.set, get: c.get, subscribe: c.subscribe}
}

// NewDerived builds a Value from explicit closures. The stream must replay the
// current value on subscribe for the result to behave as a Value.
//
// Parameters:
//   - set: Called by Set
//   - get: Called by Value
//   - s: Stream used by Subscribe
//
// Returns:
//   - A Value delegating to the given closures
func NewDerived[T any](set func(T), get func() T, s Stream[T]) *Value[T] {
	return &Value[T]{set: set, get: get, subscribe: s.Subscribe}
}

// NewValueFrom returns a Value that starts at initial and is set to every value
// upstream emits. Cancel the returned Subscription to detach it from upstream.
func NewValueFrom[T any](upstream Stream[T], initial T) (*Value[T], Subscription) {
	v := NewValue(initial)
	return v, upstream.Subscribe(v.Set)
}

// Set stores x and then delivers it to all current subscribers.
func (v *Value[T]) Set(x T) {
	v.set(x)
}

// Value returns the most recently set value.
func (v *Value[T]) Value() T {
	return v.get()
}

// Subscribe delivers the current value to fn immediately, then every later Set.
func (v *Value[T]) Subscribe(fn func(T)) Subscription {
	return v.subscribe(fn)
}

// Child returns a linked view of v sharing its get, set and subscribe.
func (v *Value[T]) Child() *Value[T] {
	return &Value[T]{set: v.set, get: v.get, subscribe: v.subscribe}
}

// ReadOnly returns a view of v without Set.
func (v *Value[T]) ReadOnly() ValueStream[T] {
	return readOnly[T]{get: v.get, subscribe: v.subscribe}
}

type readOnly[T any] struct {
	get       func() T
	subscribe func(func(T)) Subscription
}

func (r readOnly[T]) Value() T                          { return r.get() }
func (r readOnly[T]) Subscribe(fn func(T)) Subscription { return r.subscribe(fn) }

type valueCell[T any] struct {
	mu    sync.RWMutex
	value T
	b     *Broadcast[T]
}

func (c *valueCell[T]) set(v T) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()

	c.b.Emit(v)
}

func (c *valueCell[T]) get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *valueCell[T]) subscribe(fn func(T)) Subscription {
	c.mu.RLock()
	current := c.value
	sub := c.b.Subscribe(fn)
	c.mu.RUnlock()

	fn(current)
	return sub
}
