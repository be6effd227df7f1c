// Package progress estimates throughput and remaining time of a run.
package progress

// Window is a bounded FIFO. Putting into a full window evicts the oldest item.
type Window[T any] struct {
	items []T
	head  int // index of the oldest item
	size  int
}

// NewWindow creates a window holding at most capacity items
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{items: make([]T, capacity)}
}

// Put appends item, evicting the oldest one when full
func (w *Window[T]) Put(item T) {
	if w.size < len(w.items) {
		w.items[(w.head+w.size)%len(w.items)] = item
		w.size++
		return
	}
	w.items[w.head] = item
	w.head = (w.head + 1) % len(w.items)
}

// Peek returns the oldest item
func (w *Window[T]) Peek() (T, bool) {
	if w.size == 0 {
		var zero T
		return zero, false
	}
	return w.items[w.head], true
}

// Len returns the number of items held
func (w *Window[T]) Len() int {
	return w.size
}

// Cap returns the capacity
func (w *Window[T]) Cap() int {
	return len(w.items)
}

// Items returns the items from oldest to newest
func (w *Window[T]) Items() []T {
	out := make([]T, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.items[(w.head+i)%len(w.items)])
	}
	return out
}

// Mean returns the arithmetic mean of a numeric window, 0 when empty
func Mean[T ~int | ~int64 | ~float64](w *Window[T]) float64 {
	if w.size == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.size; i++ {
		sum += float64(w.items[(w.head+i)%len(w.items)])
	}
	return sum / float64(w.size)
}
