package sampler

import "sync"

// Ring is a fixed-capacity append-only buffer that overwrites its oldest
// entry when full. Safe for concurrent use.
type Ring[T any] struct {
	mu   sync.Mutex
	buf  []T
	next int
	size int
}

// NewRing returns a ring holding at most capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append adds v, evicting the oldest entry when the ring is full.
func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Snapshot returns the buffered entries, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.size)
	start := r.next - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Last returns the most recently appended entry.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	idx := r.next - 1
	if idx < 0 {
		idx += len(r.buf)
	}
	return r.buf[idx], true
}

// Filter returns the buffered entries for which keep is true, oldest
// first.
func (r *Ring[T]) Filter(keep func(T) bool) []T {
	var out []T
	for _, v := range r.Snapshot() {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
