// Package queue provides execution contexts: places where callbacks, stream
// deliveries and primitive completions are run. A Queue is a labelled serial
// executor; Immediate runs work in the calling goroutine.
package queue

import "sync"

// Executor runs submitted work. Implementations decide on which goroutine.
type Executor interface {
	// Execute schedules work to run. It must not block waiting for work to
	// finish.
	Execute(work func())
}

type immediate struct{}

func (immediate) Execute(work func()) { work() }

// Immediate runs work synchronously in the caller's goroutine.
var Immediate Executor = immediate{}

// Queue is a serial FIFO executor backed by a single goroutine. Work runs in
// submission order, one item at a time. The backlog is unbounded so work
// submitted from inside the queue never blocks.
type Queue struct {
	label string

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []func()
	closed bool
	done   chan struct{}
}

// New creates a Queue and starts its worker goroutine. Call Close to stop it.
//
// Parameters:
//   - label: Name used to identify the queue in logs
//
// Returns:
//   - A running *Queue
func New(label string) *Queue {
	q := &Queue{
		label: label,
		done:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()
	return q
}

// Label returns the name the queue was created with.
func (q *Queue) Label() string {
	return q.label
}

// Execute appends work to the queue. Work submitted after Close is dropped.
func (q *Queue) Execute(work func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.jobs = append(q.jobs, work)
	q.cond.Signal()
}

// Sync submits work and waits until it has run. It must not be called from
// inside the queue itself. If the queue is closed Sync returns immediately.
func (q *Queue) Sync(work func()) {
	ran := make(chan struct{})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.jobs = append(q.jobs, func() {
		defer close(ran)
		work()
	})
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case <-ran:
	case <-q.done:
	}
}

// Close stops accepting work, lets already queued work finish and waits for
// the worker goroutine to exit. It is safe to call multiple times but must not
// be called from inside the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()

	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}

		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}

		jobs := q.jobs
		q.jobs = nil
		q.mu.Unlock()

		for _, job := range jobs {
			job()
		}
	}
}
