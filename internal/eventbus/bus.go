// Package eventbus provides typed in-process publish/subscribe with handler isolation.
package eventbus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Bus delivers values of type T to every registered handler.
type Bus[T any] struct {
	name   string
	logger *zap.Logger

	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(T)
	order    []uint64
}

// New creates a bus. The name shows up in logs when a handler panics.
func New[T any](name string, logger *zap.Logger) *Bus[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus[T]{
		name:     name,
		logger:   logger,
		handlers: make(map[uint64]func(T)),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish calls every handler in subscription order. A panicking handler is
// logged and skipped; the remaining handlers still run.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	handlers := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.call(fn, v)
	}
}

// Len reports the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("bus", b.name),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(v)
}
