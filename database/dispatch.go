package database

import "sync"

// dispatchQueue serializes all engine requests, continuations and signal
// deliveries of a single connection on one goroutine. The queue is
// unbounded: tasks may safely enqueue further tasks from within the
// dispatch goroutine itself.
type dispatchQueue struct {
	mtx      sync.Mutex
	tasks    []func()
	wakeup   chan struct{}
	shutdown bool
	finished chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{
		wakeup:   make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
}

// start launches the dispatch goroutine.
func (q *dispatchQueue) start() {
	spawn(q.run)
}

// enqueue appends a task to the queue. It returns false when the queue
// has been stopped, in which case the task will never run.
func (q *dispatchQueue) enqueue(task func()) bool {
	q.mtx.Lock()
	if q.shutdown {
		q.mtx.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mtx.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return true
}

// stop prevents further enqueues and stops the dispatch goroutine once
// every already-queued task has run.
func (q *dispatchQueue) stop() {
	q.mtx.Lock()
	q.shutdown = true
	q.mtx.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// waitIdle blocks until the queue has stopped and drained.
func (q *dispatchQueue) waitIdle() {
	<-q.finished
}

func (q *dispatchQueue) run() {
	defer close(q.finished)
	for {
		q.mtx.Lock()
		if len(q.tasks) == 0 {
			done := q.shutdown
			q.mtx.Unlock()
			if done {
				return
			}
			<-q.wakeup
			continue
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mtx.Unlock()

		task()
	}
}
