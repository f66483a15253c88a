package messaging

import (
	"slices"
	"sync"
)

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// registry is a set of callbacks invoked in subscription order.
type registry[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []subscription[T]
}

// subscribe adds fn and returns an idempotent unsubscribe function.
func (r *registry[T]) subscribe(fn func(T)) func() {
	r.mu.Lock()
	r.next++
	id := r.next
	r.subs = append(r.subs, subscription[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.subs = slices.DeleteFunc(r.subs, func(s subscription[T]) bool {
				return s.id == id
			})
		})
	}
}

// emit calls every subscriber synchronously. Subscribers may
// unsubscribe from inside the callback.
func (r *registry[T]) emit(v T) {
	r.mu.Lock()
	subs := slices.Clone(r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
