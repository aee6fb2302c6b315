// Package workerpool implements a bounded-parallelism goroutine dispatcher.
//
// It is used wherever COSMA needs to run a batch of independent tasks (the multiply engine's
// concurrent Sequential M/N chunks, and comm/inproc's servicing of in-flight ISend/IRecv
// requests) without letting the
// number of live goroutines grow unboundedly with the problem size or the process count.
package workerpool

import (
	"runtime"
	"sync"
)

// Pool bounds the number of concurrently running tasks around a soft target.
//
// Admission of new tasks blocks once the running count reaches goroutineToParallelismRatio
// times maxParallelism, plus one for each worker currently marked as waiting on something
// (see WorkerAsleep).
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond
	numRunning     int
	extra          int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// NewWithParallelism returns a new Pool with an explicit soft parallelism target.
// A value of 0 disables parallelism (tasks run inline); a negative value means unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

func (w *Pool) isUnlimited() bool { return w.maxParallelism < 0 }

const goroutineToParallelismRatio = 2

func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	}
	if w.isUnlimited() {
		return false
	}
	return w.numRunning >= goroutineToParallelismRatio*w.maxParallelism+w.extra
}

// Go runs task in a goroutine once a worker slot is available, blocking the caller until then.
// If parallelism is disabled it runs task inline.
func (w *Pool) Go(task func()) {
	if w.isUnlimited() {
		go w.wrap(task)
		return
	}
	if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	w.mu.Unlock()
	go w.wrap(task)
}

// TryGo runs task in a goroutine if a worker slot is immediately available, without blocking.
// It returns true if the task was dispatched.
func (w *Pool) TryGo(task func()) bool {
	if w.isUnlimited() {
		go w.wrap(task)
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.numRunning++
	go w.wrap(task)
	return true
}

func (w *Pool) wrap(task func()) {
	task()
	if !w.isUnlimited() {
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}
}

// WorkerAsleep marks the calling worker (running inside a task dispatched by this Pool) as
// blocked on something other than CPU work, temporarily freeing up a slot for another task.
// Call WorkerAwake once the worker resumes CPU-bound work.
func (w *Pool) WorkerAsleep() {
	w.mu.Lock()
	w.extra++
	w.cond.Signal()
	w.mu.Unlock()
}

// WorkerAwake reverses WorkerAsleep.
func (w *Pool) WorkerAwake() {
	w.mu.Lock()
	w.extra--
	w.mu.Unlock()
}
