// Package clock provides the run clock all timestamps are measured against.
package clock

import (
	"sync"
	"time"
)

// Clock reports the time elapsed since the start of a run.
type Clock interface {
	Elapsed() time.Duration
}

// Run is the wall clock of one program run. The start instant is captured
// once by NewRun and never changes.
type Run struct {
	start time.Time
}

var _ Clock = &Run{}

// NewRun captures the start instant of a run.
func NewRun() *Run {
	return &Run{start: time.Now()}
}

// Elapsed returns the monotonic duration since the run started.
func (r *Run) Elapsed() time.Duration {
	return time.Since(r.start)
}

// Fake is a scripted Clock for tests. Each call to Elapsed pops the next
// queued duration; when the queue is empty the last value is repeated.
type Fake struct {
	mu     sync.Mutex
	queue  []time.Duration
	last   time.Duration
}

var _ Clock = &Fake{}

// NewFake returns a Fake that yields the given durations in order.
func NewFake(stamps ...time.Duration) *Fake {
	return &Fake{queue: stamps}
}

// Push appends durations to the queue.
func (f *Fake) Push(stamps ...time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, stamps...)
}

// Elapsed returns the next queued duration.
func (f *Fake) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		f.last = f.queue[0]
		f.queue = f.queue[1:]
	}
	return f.last
}
