// Package xsync provides small synchronization primitives beyond the standard library's
// sync package, used by the multiply engine to coordinate work whose
// cardinality isn't known up front.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is a WaitGroup-like primitive whose count may still be incremented
// after a Wait is already in progress.
//
// The multiply engine uses it to join the concurrently dispatched chunks of a Sequential M/N
// step. A plain sync.WaitGroup's Add happening concurrently with Wait is a documented race,
// so this uses sync.Cond instead.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewDynamicWaitGroup creates a ready-to-use DynamicWaitGroup.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	dwg := &DynamicWaitGroup{}
	dwg.cond = sync.NewCond(&dwg.mu)
	return dwg
}

// Add changes the counter by delta, waking any waiters if it reaches zero. Panics if the
// counter would go negative.
func (dwg *DynamicWaitGroup) Add(delta int) {
	dwg.mu.Lock()
	defer dwg.mu.Unlock()

	dwg.count += int64(delta)
	if dwg.count < 0 {
		panic(errors.Errorf("xsync: DynamicWaitGroup counter went negative"))
	}
	if dwg.count == 0 {
		dwg.cond.Broadcast()
	}
}

// Done decrements the counter by one.
func (dwg *DynamicWaitGroup) Done() {
	dwg.Add(-1)
}

// Wait blocks until the counter is zero.
func (dwg *DynamicWaitGroup) Wait() {
	dwg.mu.Lock()
	defer dwg.mu.Unlock()
	for dwg.count > 0 {
		dwg.cond.Wait()
	}
}
