package eventbus

import "sync"

// Subject holds the latest value of T and fans every change out to channel
// subscribers and registered callbacks. It has a single writer; readers only
// observe.
type Subject[T any] struct {
	bus *TypedBus[T]

	mu        sync.RWMutex
	current   T
	nextID    uint64
	callbacks map[uint64]func(T)
	order     []uint64
}

// NewSubject returns a Subject whose current value is initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		bus:       NewTyped[T](),
		current:   initial,
		callbacks: make(map[uint64]func(T)),
	}
}

// Current returns the latest value.
func (s *Subject[T]) Current() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set stores v, invokes callbacks in registration order and publishes v on
// the bus. Callbacks run on the caller's goroutine after the lock is released.
func (s *Subject[T]) Set(v T) {
	s.mu.Lock()
	s.current = v
	cbs := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		cbs = append(cbs, s.callbacks[id])
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(v)
	}
	s.bus.Publish(v)
}

// Observe registers cb and returns a function removing it. Registering the
// same function twice yields two independent registrations.
func (s *Subject[T]) Observe(cb func(T)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.callbacks[id] = cb
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.callbacks, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribe returns a channel receiving subsequent values.
func (s *Subject[T]) Subscribe() <-chan T { return s.bus.Subscribe() }

// Unsubscribe releases a channel obtained from Subscribe.
func (s *Subject[T]) Unsubscribe(ch <-chan T) { s.bus.Unsubscribe(ch) }

// Close closes all subscriber channels and drops callbacks.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	s.callbacks = make(map[uint64]func(T))
	s.order = nil
	s.mu.Unlock()
	s.bus.Close()
}
