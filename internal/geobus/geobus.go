// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"sync"
)

// Bus fans out published values of type T to callback and channel subscribers. Callback
// subscribers are invoked synchronously on the publishing goroutine in subscription order.
// Channel subscribers receive values via a non-blocking send, so a slow reader misses values
// instead of stalling the publisher.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []handler[T]
	chans    map[chan T]struct{}
	last     T
	haveLast bool
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// New initializes and returns a new, empty Bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{
		chans: make(map[chan T]struct{}),
	}
}

// Subscribe registers fn for every subsequently published value and returns a function that
// removes the subscription again. The returned function is safe to call multiple times.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handler[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, h := range b.handlers {
				if h.id == id {
					b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscribeChan adds a channel subscriber with the given buffer size, returning the channel and
// an unsubscribe function which also closes the channel. If a value has been published before,
// it is replayed to the new subscriber right away.
func (b *Bus[T]) SubscribeChan(size int) (<-chan T, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan T, size)

	b.mu.Lock()
	b.chans[ch] = struct{}{}
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.chans, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish stores v as the latest value and delivers it to all subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	b.last = v
	b.haveLast = true
	handlers := make([]handler[T], len(b.handlers))
	copy(handlers, b.handlers)
	for ch := range b.chans {
		select {
		case ch <- v:
		default:
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h.fn(v)
	}
}

// Last returns the most recently published value, if any.
func (b *Bus[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

// Reset forgets the most recently published value. Subscriptions are kept.
func (b *Bus[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	b.last = zero
	b.haveLast = false
}

// Len returns the number of active subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers) + len(b.chans)
}
