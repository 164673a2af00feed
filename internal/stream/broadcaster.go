package stream

import (
	"context"
	"sync"
)

// Broadcaster fans out values from one source to N listeners.
type Broadcaster[T any] struct {
	buffer int

	mu        sync.RWMutex
	listeners map[*Listener[T]]struct{}
	finished  bool
}

// Listener receives values from the broadcaster.
type Listener[T any] struct {
	C    chan T
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed or the broadcaster's
// source has ended.
func (l *Listener[T]) Done() <-chan struct{} {
	return l.done
}

func (l *Listener[T]) stop() {
	l.once.Do(func() { close(l.done) })
}

// NewBroadcaster creates a new broadcaster whose listeners buffer up to
// buffer values each.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	return &Broadcaster[T]{
		buffer:    buffer,
		listeners: make(map[*Listener[T]]struct{}),
	}
}

// Subscribe registers a new listener. Subscribing after the source ended
// returns a listener that is already done.
func (b *Broadcaster[T]) Subscribe() *Listener[T] {
	l := &Listener[T]{
		C:    make(chan T, b.buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		l.stop()
		return l
	}
	b.listeners[l] = struct{}{}
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster[T]) Unsubscribe(l *Listener[T]) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.stop()
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads values from source and fans out to all listeners.
// Slow listeners get values dropped rather than blocking the broadcast.
// When source is closed every listener is signalled done.
func (b *Broadcaster[T]) Run(ctx context.Context, source <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-source:
			if !ok {
				b.finish()
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- v:
				default:
					// listener too slow, drop to keep broadcast moving
				}
			}
			b.mu.RUnlock()
		}
	}
}

func (b *Broadcaster[T]) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = true
	for l := range b.listeners {
		delete(b.listeners, l)
		l.stop()
	}
}
