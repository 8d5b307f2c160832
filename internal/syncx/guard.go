// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Slot holds at most one value, replaced under mutual exclusion. A displaced
// value is handed to the release func outside the lock.
type Slot[T comparable] struct {
	mu      sync.Mutex
	value   T
	set     bool
	release func(T)
}

// NewSlot creates an empty slot. release may be nil.
func NewSlot[T comparable](release func(T)) *Slot[T] {
	return &Slot[T]{release: release}
}

// Load returns the current value and whether one is held.
func (s *Slot[T]) Load() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Replace stores v and releases the displaced value unless it is v itself.
func (s *Slot[T]) Replace(v T) {
	s.mu.Lock()
	old, had := s.value, s.set
	s.value, s.set = v, true
	s.mu.Unlock()

	if had && old != v && s.release != nil {
		s.release(old)
	}
}

// Clear empties the slot, releasing any held value.
func (s *Slot[T]) Clear() {
	var zero T
	s.mu.Lock()
	old, had := s.value, s.set
	s.value, s.set = zero, false
	s.mu.Unlock()

	if had && s.release != nil {
		s.release(old)
	}
}
