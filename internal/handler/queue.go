package handler

import (
	"sort"
	"sync"
)

// Timing controls when an enqueued handler runs.
type Timing string

const (
	// TimingEnd defers the handler to the pipeline-wide flush.
	TimingEnd Timing = "end"
	// TimingImmediate asks the caller to run the handler right away.
	// The end-of-run flush will not run it a second time.
	TimingImmediate Timing = "immediate"
)

// Disposition is what Enqueue tells the caller to do.
type Disposition int

const (
	// Queued means no immediate action: the handler is pending for the
	// flush, or already ran.
	Queued Disposition = iota
	// RunNow means the caller is responsible for running the handler.
	RunNow
)

// Queue is a deduplicating set of handler names triggered during one
// pipeline run. Safe for concurrent use; resource executors on any
// worker may enqueue while the pipeline coordinator reads.
type Queue struct {
	mu      sync.Mutex
	pending map[string]struct{}
	ran     map[string]struct{}
}

// NewQueue returns an empty queue scoped to a single run.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]struct{}),
		ran:     make(map[string]struct{}),
	}
}

// Notify implements resource.Notifier with end-of-run timing.
func (q *Queue) Notify(name string) {
	q.Enqueue(name, TimingEnd)
}

// Enqueue records a handler name; insertion is idempotent per run. A
// RunNow disposition makes the caller run the handler itself, and the
// name is marked done so the flush never reruns it.
func (q *Queue) Enqueue(name string, timing Timing) Disposition {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, done := q.ran[name]; done {
		return Queued
	}
	if timing == TimingImmediate {
		delete(q.pending, name)
		q.ran[name] = struct{}{}
		return RunNow
	}
	q.pending[name] = struct{}{}
	return Queued
}

// Flush returns the pending names in ascending order and marks them
// done. Each name runs at most once per queue lifetime.
func (q *Queue) Flush() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, len(q.pending))
	for name := range q.pending {
		out = append(out, name)
		q.ran[name] = struct{}{}
	}
	q.pending = make(map[string]struct{})

	sort.Strings(out)
	return out
}

// List returns the pending names in ascending order without clearing.
func (q *Queue) List() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, len(q.pending))
	for name := range q.pending {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsQueued reports whether the named handler is pending.
func (q *Queue) IsQueued(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[name]
	return ok
}

// AnyQueued reports whether any handler is pending.
func (q *Queue) AnyQueued() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0
}

// Count returns the number of distinct pending handlers.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear empties the queue without returning its contents.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = make(map[string]struct{})
	q.ran = make(map[string]struct{})
}
