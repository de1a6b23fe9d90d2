package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversInSubscriptionOrder(t *testing.T) {
	s := New[int]()
	var got []string
	s.Subscribe(func(v int) { got = append(got, "a") })
	s.Subscribe(func(v int) { got = append(got, "b") })
	s.Subscribe(func(v int) { got = append(got, "c") })

	s.Emit(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestCurrentHoldsLastValue(t *testing.T) {
	s := New[string]()
	_, ok := s.Current()
	assert.False(t, ok)

	s.Emit("first")
	s.Emit("second")

	v, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestLateSubscriberIsNotReplayed(t *testing.T) {
	s := New[int]()
	s.Emit(1)
	s.Emit(2)

	var got []int
	s.Subscribe(func(v int) { got = append(got, v) })
	assert.Empty(t, got)

	s.Emit(3)
	assert.Equal(t, []int{3}, got)
}

func TestUnsubscribe(t *testing.T) {
	s := New[int]()
	var a, b int
	subA := s.Subscribe(func(v int) { a += v })
	s.Subscribe(func(v int) { b += v })

	s.Emit(1)
	s.Unsubscribe(subA)
	s.Emit(10)

	assert.Equal(t, 1, a)
	assert.Equal(t, 11, b)
	assert.Equal(t, 1, s.Len())

	// Closing twice is harmless.
	subA.Close()
	subA.Close()
	assert.Equal(t, 1, s.Len())
}

func TestUnsubscribeDuringEmit(t *testing.T) {
	s := New[int]()
	var calls []string
	var self Subscription
	self = s.Subscribe(func(v int) {
		calls = append(calls, "self")
		self.Close()
	})
	s.Subscribe(func(v int) { calls = append(calls, "other") })

	s.Emit(1)
	// The snapshot taken for the first emission still includes both callbacks.
	assert.Equal(t, []string{"self", "other"}, calls)

	s.Emit(2)
	assert.Equal(t, []string{"self", "other", "other"}, calls)
}

func TestSubscribeDuringEmit(t *testing.T) {
	s := New[int]()
	var late []int
	s.Subscribe(func(v int) {
		if v == 1 {
			s.Subscribe(func(v int) { late = append(late, v) })
		}
	})

	s.Emit(1)
	assert.Empty(t, late)
	s.Emit(2)
	assert.Equal(t, []int{2}, late)
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	s := New[int]()
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := s.Subscribe(func(v int) {
				mu.Lock()
				total += v
				mu.Unlock()
			})
			defer sub.Close()
		}()
		go func(i int) {
			defer wg.Done()
			s.Emit(i)
		}(i)
	}
	wg.Wait()

	_, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, 0, s.Len())
}
