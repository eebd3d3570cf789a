// Package task implements the worker pool, its admission and
// continuation task queue, back-pressure, and the per-origin
// sequencer that enforces in-order buffer delivery. The queue, guarded
// by a sync.Cond, serves admissions FIFO and continuations LIFO, and
// prefers continuations so a worker's own output moves ahead of older
// admitted backlog.
package task

import (
	"sync"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/internal/buffer"
)

// Node is one compiled pipeline stage plus the downstream nodes that
// consume the buffers it produces, forming a query's execution DAG
// (physical.Pipeline.Consumers carried into the runtime).
type Node struct {
	Stage     codegen.ExecutablePipelineStage
	Consumers []*Node
}

// Task pairs one DAG node with the buffer to execute its stage
// against.
type Task struct {
	Node *Node
	Buf  *buffer.TupleBuffer
}

// Queue holds two kinds of pending work: admissions (new buffers
// arriving from outside the engine, served FIFO so sources are
// processed roughly in arrival order) and continuations (follow-on
// work a worker produces while executing a task, e.g. a breaker
// publishing into the next pipeline; served LIFO so the producing
// worker's own output gets picked up before the queue drains older
// admissions, bounding in-flight buffer count).
type Queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	admissions   []Task
	continuations []Task
	closed       bool

	highWater int
	lowWater  int
	belowLow  *sync.Cond
}

// NewQueue returns a Queue that blocks Admit once len(admissions)
// reaches highWater, resuming blocked admitters once it drops back to
// lowWater (spec §4.4 back-pressure).
func NewQueue(highWater, lowWater int) *Queue {
	q := &Queue{highWater: highWater, lowWater: lowWater}
	q.cond = sync.NewCond(&q.mu)
	q.belowLow = sync.NewCond(&q.mu)
	return q
}

// Admit enqueues an externally-arriving task, blocking while the
// admission queue is at or above the high water mark.
func (q *Queue) Admit(t Task) {
	q.mu.Lock()
	for !q.closed && len(q.admissions) >= q.highWater {
		q.belowLow.Wait()
	}
	if !q.closed {
		q.admissions = append(q.admissions, t)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Continue enqueues a worker-produced follow-on task, never blocking:
// continuations must never deadlock a worker against its own output.
func (q *Queue) Continue(t Task) {
	q.mu.Lock()
	if !q.closed {
		q.continuations = append(q.continuations, t)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Pop blocks until a task is available or the queue is closed, and
// returns ok=false in the latter case. Continuations are preferred
// over admissions.
func (q *Queue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.continuations) == 0 && len(q.admissions) == 0 {
		q.cond.Wait()
	}
	if len(q.continuations) > 0 {
		n := len(q.continuations) - 1
		t := q.continuations[n]
		q.continuations = q.continuations[:n]
		return t, true
	}
	if len(q.admissions) > 0 {
		t := q.admissions[0]
		q.admissions = q.admissions[1:]
		if len(q.admissions) <= q.lowWater {
			q.belowLow.Broadcast()
		}
		return t, true
	}
	return Task{}, false
}

// Close unblocks every pending Pop and Admit call; no further tasks
// are accepted.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.belowLow.Broadcast()
	q.mu.Unlock()
}

// Len reports the number of admitted (not continuation) tasks
// currently queued, for back-pressure observability.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.admissions)
}
