package stream

import "sync"

// Map returns a stream delivering f(v) for every v from s.
func Map[T, U any](s Stream[T], f func(T) U) Stream[U] {
	return Func[U](func(fn func(U)) Subscription {
		return s.Subscribe(func(v T) { fn(f(v)) })
	})
}

// MapTo returns a stream delivering value each time s emits.
func MapTo[T, U any](s Stream[T], value U) Stream[U] {
	return Map(s, func(T) U { return value })
}

// Filter returns a stream delivering only the values of s for which keep
// returns true.
func Filter[T any](s Stream[T], keep func(T) bool) Stream[T] {
	return Func[T](func(fn func(T)) Subscription {
		return s.Subscribe(func(v T) {
			if keep(v) {
				fn(v)
			}
		})
	})
}

// FilterEqual returns a stream delivering only values equal to value.
func FilterEqual[T comparable](s Stream[T], value T) Stream[T] {
	return Filter(s, func(v T) bool { return v == value })
}

// Tap calls side for every value of s before forwarding it.
func Tap[T any](s Stream[T], side func(T)) Stream[T] {
	return Func[T](func(fn func(T)) Subscription {
		return s.Subscribe(func(v T) {
			side(v)
			fn(v)
		})
	})
}

// RemoveDuplicates drops values equal to the one delivered just before them.
// Each subscription tracks its own previous value.
func RemoveDuplicates[T comparable](s Stream[T]) Stream[T] {
	return RemoveDuplicatesFunc(s, func(a, b T) bool { return a == b })
}

// RemoveDuplicatesFunc is RemoveDuplicates with a caller supplied equality.
func RemoveDuplicatesFunc[T any](s Stream[T], equal func(a, b T) bool) Stream[T] {
	return Func[T](func(fn func(T)) Subscription {
		var (
			mu   sync.Mutex
			last T
			seen bool
		)

		return s.Subscribe(func(v T) {
			mu.Lock()
			if seen && equal(last, v) {
				mu.Unlock()
				return
			}
			last, seen = v, true
			mu.Unlock()

			fn(v)
		})
	})
}
