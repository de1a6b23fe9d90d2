// Package broadcast provides a last-value-cached, multi-subscriber publish
// primitive.
//
// A Subject holds the most recently emitted value. Emit synchronously invokes
// every registered callback, in subscription order, on the emitting goroutine.
// Subscribers registered later are not replayed past emissions; they can read
// the held value with Current.
package broadcast

import "sync"

// Subscription identifies a registered callback.
type Subscription struct {
	id    uint64
	unsub func(uint64)
}

// Close unregisters the callback. It is safe to call more than once.
func (s Subscription) Close() {
	if s.unsub != nil {
		s.unsub(s.id)
	}
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subject is safe for concurrent use. Callbacks may subscribe or unsubscribe
// from within an emission; the change applies from the next Emit.
type Subject[T any] struct {
	mu     sync.Mutex
	subs   []subscriber[T]
	nextID uint64
	value  T
	has    bool
}

// New returns an empty Subject.
func New[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Subscribe registers fn to receive every subsequent emission.
func (s *Subject[T]) Subscribe(fn func(T)) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	return Subscription{id: id, unsub: s.remove}
}

// Unsubscribe removes a previously registered callback.
func (s *Subject[T]) Unsubscribe(sub Subscription) {
	s.remove(sub.id)
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			// Build a fresh slice so snapshots held by in-flight emissions stay intact.
			next := make([]subscriber[T], 0, len(s.subs)-1)
			next = append(next, s.subs[:i]...)
			next = append(next, s.subs[i+1:]...)
			s.subs = next
			return
		}
	}
}

// Emit stores v as the current value and delivers it to every subscriber.
func (s *Subject[T]) Emit(v T) {
	s.mu.Lock()
	s.value = v
	s.has = true
	snapshot := s.subs
	s.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// Current returns the most recently emitted value, if any.
func (s *Subject[T]) Current() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.has
}

// Len reports the number of registered subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
