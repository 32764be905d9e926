package reconcile

import "sync"

// Selection tracks at most one selected entity across revalidation cycles.
type Selection[K comparable] struct {
	mu       sync.Mutex
	key      K
	selected bool
}

func (s *Selection[K]) Select(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.selected = true
}

func (s *Selection[K]) Selected() (K, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, s.selected
}

func (s *Selection[K]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero K
	s.key = zero
	s.selected = false
}

// ClearIf clears the selection only if it currently points at key.
func (s *Selection[K]) ClearIf(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected || s.key != key {
		return false
	}
	var zero K
	s.key = zero
	s.selected = false
	return true
}

// Prune clears the selection when it is not among keys.
func (s *Selection[K]) Prune(keys []K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return false
	}
	for _, k := range keys {
		if k == s.key {
			return false
		}
	}
	var zero K
	s.key = zero
	s.selected = false
	return true
}

// Track prunes sel after every poll applied to r.
func Track[T any, K comparable](r *Resource[T], sel *Selection[K], key func(T) K) {
	r.OnApply(func(items []T) {
		keys := make([]K, 0, len(items))
		for _, item := range items {
			keys = append(keys, key(item))
		}
		sel.Prune(keys)
	})
}
