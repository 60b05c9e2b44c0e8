package pipeline

import "sync"

// Consume adapts a slice to a GeneratorFunc: it yields each element of
// items in order, then returns ErrEndOfStream. It is the Go-native
// replacement for the source design's begin/end iterator pair — a slice
// already knows its own bounds, so no iterator-pair ceremony is needed.
//
// The returned func is safe to call from a single stage worker only (the
// pipeline never calls a stage's callable concurrently with itself), but
// guards its index with a mutex anyway so the same GeneratorFunc can be
// reused to seed more than one pipeline without races.
func Consume[T any](items []T) GeneratorFunc[T] {
	var (
		mu  sync.Mutex
		idx int
	)

	return func() (T, error) {
		mu.Lock()
		defer mu.Unlock()

		if idx >= len(items) {
			var zero T
			return zero, ErrEndOfStream
		}

		value := items[idx]
		idx++

		return value, nil
	}
}
