// Package par runs build work items in parallel with a bounded number of
// workers.
package par

import "sync"

// Queue manages a set of work items executed in parallel, at most once
// each. Items must be valid map keys. Items are handed to workers in the
// order they were added, so log output roughly follows configuration
// order.
type Queue[T comparable] struct {
	f       func(T)
	running int

	mu      sync.Mutex
	added   map[T]bool
	todo    []T
	wait    sync.Cond
	waiting int
}

// Add enqueues item unless it was already added.
func (q *Queue[T]) Add(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.added == nil {
		q.added = make(map[T]bool)
	}
	if q.added[item] {
		return
	}
	q.added[item] = true
	q.todo = append(q.todo, item)
	if q.waiting > 0 {
		q.wait.Signal()
	}
}

// Run invokes f on queued items with at most n invocations in flight and
// returns when every added item has been processed. f may Add further
// items. Run may only be called once per Queue.
func (q *Queue[T]) Run(n int, f func(item T)) {
	if n < 1 {
		panic("par.Queue.Run: n < 1")
	}
	if q.running >= 1 {
		panic("par.Queue.Run: already running")
	}

	q.running = n
	q.f = f
	q.wait.L = &q.mu

	for i := 0; i < n-1; i++ {
		go q.worker()
	}
	q.worker()
}

// worker loops until the queue is drained and every worker is idle.
func (q *Queue[T]) worker() {
	for {
		q.mu.Lock()
		for len(q.todo) == 0 {
			q.waiting++
			if q.waiting == q.running {
				q.wait.Broadcast()
				q.mu.Unlock()
				return
			}
			q.wait.Wait()
			q.waiting--
		}

		item := q.todo[0]
		q.todo = q.todo[1:]
		q.mu.Unlock()

		q.f(item)
	}
}

// Each runs f over items with at most n invocations in flight and waits
// for all of them.
func Each[T comparable](n int, items []T, f func(item T)) {
	if len(items) == 0 {
		return
	}
	var q Queue[T]
	for _, item := range items {
		q.Add(item)
	}
	q.Run(n, f)
}
