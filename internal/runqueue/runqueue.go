// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package runqueue provides a serialized task executor.
//
// Tasks posted to a queue run one at a time and in post order, but never on
// the goroutine that posted them. The queue is unbounded, so tasks may safely
// post follow-up tasks from inside the queue without deadlocking.
package runqueue // import "loqui.im/xmpp/internal/runqueue"

import (
	"sync"
	"sync/atomic"
)

const (
	idle int32 = iota
	running
)

// RunQueue executes functions serially in FIFO order.
type RunQueue struct {
	mu    sync.Mutex
	tasks []func()
	state int32
}

// New returns an empty, ready to use run queue.
func New() *RunQueue {
	return &RunQueue{}
}

// Post enqueues fn to run after all previously posted functions.
func (q *RunQueue) Post(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
	q.schedule()
}

func (q *RunQueue) schedule() {
	if atomic.CompareAndSwapInt32(&q.state, idle, running) {
		go q.process()
	}
}

func (q *RunQueue) process() {
process:
	q.run()

	atomic.StoreInt32(&q.state, idle)
	q.mu.Lock()
	more := len(q.tasks) > 0
	q.mu.Unlock()
	if more {
		// Try setting the queue back to running.
		if atomic.CompareAndSwapInt32(&q.state, idle, running) {
			goto process
		}
	}
}

func (q *RunQueue) run() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
