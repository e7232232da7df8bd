package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_Subscribe(t *testing.T) {
	t.Run("new subscriber receives only the latest value", func(t *testing.T) {
		v := NewValue(0)
		v.Set(1)
		v.Set(2)

		var got []int
		v.Subscribe(func(x int) { got = append(got, x) })
		assert.Equal(t, []int{2}, got)

		v.Set(3)
		assert.Equal(t, []int{2, 3}, got)
	})

	t.Run("initial value is delivered before any set", func(t *testing.T) {
		v := NewValue("setup")
		var got []string
		v.Subscribe(func(s string) { got = append(got, s) })
		assert.Equal(t, []string{"setup"}, got)
	})

	t.Run("cancelled subscriber stops receiving", func(t *testing.T) {
		v := NewValue(0)
		count := 0
		sub := v.Subscribe(func(int) { count++ })
		sub.Cancel()
		v.Set(1)
		assert.Equal(t, 1, count)
	})
}

func TestValue_Set(t *testing.T) {
	v := NewValue(0)

	var seenInside int
	v.Subscribe(func(int) { seenInside = v.Value() })
	v.Set(5)

	assert.Equal(t, 5, v.Value())
	assert.Equal(t, 5, seenInside)
}

func TestValue_Child(t *testing.T) {
	parent := NewValue(1)
	child := parent.Child()

	t.Run("child reflects parent sets", func(t *testing.T) {
		parent.Set(2)
		assert.Equal(t, 2, child.Value())
	})

	t.Run("parent reflects child sets", func(t *testing.T) {
		var got []int
		parent.Subscribe(func(x int) { got = append(got, x) })

		child.Set(3)
		assert.Equal(t, 3, parent.Value())
		assert.Equal(t, []int{2, 3}, got)
	})

	t.Run("grandchild shares the same state", func(t *testing.T) {
		grandchild := child.Child()
		grandchild.Set(4)
		assert.Equal(t, 4, parent.Value())
		assert.Equal(t, 4, child.Value())
	})
}

func TestNewDerived(t *testing.T) {
	root := NewValue(10)
	var sets []int
	derived := NewDerived[int](func(x int) {
		sets = append(sets, x)
		root.Set(x)
	}, root.Value, root)

	derived.Set(11)
	assert.Equal(t, []int{11}, sets)
	assert.Equal(t, 11, root.Value())
	assert.Equal(t, 11, derived.Value())

	var got int
	derived.Subscribe(func(x int) { got = x })
	assert.Equal(t, 11, got)
}

func TestNewValueFrom(t *testing.T) {
	upstream := NewBroadcast[int]()
	v, sub := NewValueFrom[int](upstream.Stream(), 0)

	upstream.Emit(4)
	assert.Equal(t, 4, v.Value())

	sub.Cancel()
	upstream.Emit(5)
	assert.Equal(t, 4, v.Value())
}

func TestValue_ReadOnly(t *testing.T) {
	v := NewValue("a")
	ro := v.ReadOnly()

	var got []string
	ro.Subscribe(func(s string) { got = append(got, s) })
	v.Set("b")

	assert.Equal(t, "b", ro.Value())
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestValue_SubscribeDuringSet(t *testing.T) {
	for range 200 {
		v := NewValue(0)
		var late []int
		subscribed := false
		for range 8 {
			v.Subscribe(func(x int) {
				if x == 0 || subscribed {
					return
				}
				subscribed = true
				v.Subscribe(func(y int) { late = append(late, y) })
			})
		}

		v.Set(1)
		assert.Equal(t, []int{1}, late)

		v.Set(2)
		assert.Equal(t, []int{1, 2}, late)
	}
}
