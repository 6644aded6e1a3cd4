// Package seqbuf provides a bounded FIFO whose entries carry increasing
// sequence numbers, so readers can page through it with a cursor and block
// until something newer arrives.
package seqbuf

import (
	"context"
	"sync"
)

type entry[T any] struct {
	seq   uint64
	value T
}

// Buffer holds at most capacity entries. The oldest entry is evicted when a
// new one does not fit.
type Buffer[T any] struct {
	mu       sync.Mutex
	capacity int
	ring     []entry[T]
	head     int
	size     int
	last     uint64
	changed  chan struct{}
}

func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer[T]{
		capacity: capacity,
		ring:     make([]entry[T], capacity),
		changed:  make(chan struct{}),
	}
}

// Append assigns the next sequence number, lets build produce the stored
// value with it, and wakes every waiting reader.
func (b *Buffer[T]) Append(build func(seq uint64) T) T {
	b.mu.Lock()
	b.last++
	value := build(b.last)
	idx := (b.head + b.size) % b.capacity
	if b.size == b.capacity {
		idx = b.head
		b.head = (b.head + 1) % b.capacity
	} else {
		b.size++
	}
	b.ring[idx] = entry[T]{seq: b.last, value: value}
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()
	return value
}

// Fetch returns up to limit values newer than since and the cursor for the
// next call. With wait set and nothing newer buffered it blocks until Append
// runs or ctx ends, in which case ctx's error is returned.
func (b *Buffer[T]) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]T, uint64, error) {
	if limit <= 0 || limit > b.capacity {
		limit = b.capacity
	}
	for {
		b.mu.Lock()
		values, next := b.afterLocked(since, limit)
		changed := b.changed
		b.mu.Unlock()

		if len(values) > 0 || !wait {
			return values, next, nil
		}
		select {
		case <-ctx.Done():
			return nil, next, ctx.Err()
		case <-changed:
		}
	}
}

// Tail returns the newest limit values and the latest sequence number.
func (b *Buffer[T]) Tail(limit int) ([]T, uint64) {
	if limit <= 0 || limit > b.capacity {
		limit = b.capacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(limit, b.size)
	out := make([]T, 0, n)
	for i := b.size - n; i < b.size; i++ {
		out = append(out, b.ring[(b.head+i)%b.capacity].value)
	}
	return out, b.last
}

// First reports the oldest buffered sequence number, or the latest issued
// one when the buffer is empty.
func (b *Buffer[T]) First() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return b.last
	}
	return b.ring[b.head].seq
}

func (b *Buffer[T]) afterLocked(since uint64, limit int) ([]T, uint64) {
	if b.size == 0 || since >= b.last {
		return nil, b.last
	}
	oldest := b.ring[b.head].seq
	skip := 0
	if since >= oldest {
		skip = int(since - oldest + 1)
	}
	n := min(limit, b.size-skip)
	out := make([]T, 0, n)
	var next uint64
	for i := skip; i < skip+n; i++ {
		e := b.ring[(b.head+i)%b.capacity]
		out = append(out, e.value)
		next = e.seq
	}
	return out, next
}
