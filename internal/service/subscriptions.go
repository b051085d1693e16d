package service

import "sync"

// subscribers is a keyed registry of callbacks used to implement the live
// query surface of the store (subscribe, receive snapshots on every change,
// unsubscribe). Callbacks are invoked outside the registry lock.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(T)
}

func newSubscribers[T any]() *subscribers[T] {
	return &subscribers[T]{subs: make(map[string]map[int]func(T))}
}

// add registers fn under key and returns an unsubscribe func. Unsubscribing
// twice is a no-op.
func (s *subscribers[T]) add(key string, fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(T))
	}
	s.subs[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.subs[key]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, key)
			}
		}
	}
}

// notify invokes every callback registered under key with v.
func (s *subscribers[T]) notify(key string, v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// hasSubscribers reports whether any callback is registered under key.
func (s *subscribers[T]) hasSubscribers(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[key]) > 0
}
