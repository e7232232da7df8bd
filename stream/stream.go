// Package stream provides the hot multicast primitives the connection and
// discovery adapters are built from: Broadcast, a non-replaying event channel,
// and Value, a channel that caches and replays its latest value. Streams never
// fail and never complete; they only deliver values.
package stream

import "sync"

// Subscription is a handle on a registered consumer.
type Subscription interface {
	// Cancel removes the consumer. It is idempotent and may be called from
	// inside a delivery.
	Cancel()
}

// CancelFunc adapts a function to Subscription.
type CancelFunc func()

// Cancel implements Subscription.
func (f CancelFunc) Cancel() { f() }

// Stream is a read-only view of a hot event source.
type Stream[T any] interface {
	// Subscribe registers fn to receive every subsequent value.
	Subscribe(fn func(T)) Subscription
}

// Func adapts a subscribe function to Stream.
type Func[T any] func(fn func(T)) Subscription

// Subscribe implements Stream.
func (f Func[T]) Subscribe(fn func(T)) Subscription { return f(fn) }

// once wraps a cancel function so that only the first call has an effect.
func once(f func()) Subscription {
	var o sync.Once
	return CancelFunc(func() { o.Do(f) })
}
