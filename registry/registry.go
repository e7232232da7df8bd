// Package registry provides a concurrent, id-assigning map used to track
// subscribers and live sessions. Each value added receives a fresh uint32 id
// from a monotonically increasing counter.
package registry

import (
	"sync"
	"sync/atomic"
)

// Registry stores values of type V under ids it assigns itself. It is safe for
// concurrent use, and Remove may be called from inside a Range callback.
//
// Registry must not be copied after first use.
type Registry[V any] struct {
	next atomic.Uint32
	m    sync.Map
	n    atomic.Int64
}

// New returns an empty Registry whose first assigned id is 1.
func New[V any]() *Registry[V] {
	return &Registry[V]{}
}

// Add stores v and returns the id assigned to it.
//
// Parameters:
//   - v: The value to store
//
// Returns:
//   - The id under which v was stored
func (r *Registry[V]) Add(v V) uint32 {
	id := r.next.Add(1)
	r.m.Store(id, v)
	r.n.Add(1)
	return id
}

// Get returns the value stored under id.
//
// Returns:
//   - The value and true if present, or the zero value and false otherwise
func (r *Registry[V]) Get(id uint32) (V, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		var zero V
		return zero, false
	}

	return v.(V), true
}

// Remove deletes the value stored under id and reports whether it was present.
// Removing an unknown id is a no-op.
func (r *Registry[V]) Remove(id uint32) bool {
	if _, loaded := r.m.LoadAndDelete(id); loaded {
		r.n.Add(-1)
		return true
	}

	return false
}

// Range calls f for each stored value until f returns false. Values added or
// removed during iteration may or may not be visited.
func (r *Registry[V]) Range(f func(id uint32, v V) bool) {
	r.m.Range(func(k, v any) bool {
		return f(k.(uint32), v.(V))
	})
}

// Len returns the number of stored values in O(1).
func (r *Registry[V]) Len() int {
	return int(r.n.Load())
}
