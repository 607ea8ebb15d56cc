package realtime

import "sync"

type listener[T any] struct {
	id int
	fn func(T)
}

// listeners is a registration-ordered list of callbacks. Registration may
// happen from any goroutine, including from inside a callback.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	subs []listener[T]
}

func (l *listeners[T]) add(fn func(T)) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.subs = append(l.subs, listener[T]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[T]) snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(T), len(l.subs))
	for i, s := range l.subs {
		out[i] = s.fn
	}
	return out
}
