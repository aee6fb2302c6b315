// Package comm defines the message-transport contract the multiply engine drives: a
// communicator of ranks exchanging point-to-point messages and collectives, with
// non-blocking completion handles. It is deliberately an interface with no algorithmic
// content of its own -- the transport is an external primitive per the top-level scope --
// and pkg/core/comm/inproc supplies the one implementation this repo ships.
package comm

import (
	"context"

	"github.com/cosma-go/cosma/pkg/core/dtype"
)

// Op names a reduction operator a collective applies element-wise.
type Op int

const (
	// OpSum is element-wise addition, the only reduction the multiply engine issues
	// (accumulating partial C contributions from a parallel-K split).
	OpSum Op = iota
)

// String implements fmt.Stringer.
func (op Op) String() string {
	switch op {
	case OpSum:
		return "sum"
	default:
		return "unknown"
	}
}

// Request is a handle to a non-blocking operation's completion.
type Request interface {
	// Wait blocks until the operation completes, returning any error it produced.
	Wait(ctx context.Context) error
	// Test reports whether the operation has already completed, without blocking. The
	// second return mirrors Wait's error once done is true.
	Test() (done bool, err error)
	// ID returns the request's diagnostic correlation ID (spec section 7's "diagnostic
	// string" -- included in error messages and verbose logs so overlapping in-flight
	// requests are distinguishable).
	ID() string
}

// Communicator is a fixed-size group of ranks that can exchange messages. All ranks in a
// communicator must call collective methods (Reduce, Bcast, Gather, Barrier, Split) in the
// same order with matching arguments -- the multiply engine's plan-driven traversal
// guarantees this (spec section 5, "ordering guarantees").
type Communicator interface {
	// Rank returns this process's rank within the communicator, in [0, Size()).
	Rank() int
	// Size returns the number of ranks in the communicator.
	Size() int

	// Split partitions the communicator into `groups` disjoint sub-communicators of equal
	// size (Size() must be divisible by groups), grouping consecutive ranks: rank r lands
	// in sub-communicator r/(Size()/groups) at local rank r%(Size()/groups). Every rank
	// must call Split with the same `groups` value.
	Split(groups int) (Communicator, error)

	// Restrict returns the sub-communicator over the leading n ranks of this communicator
	// (rank r keeps rank r in the result iff r < n). It is how the multiply engine narrows
	// a Problem.P-sized communicator down to a Strategy's EffectiveP active ranks before
	// walking the plan (spec section 4.2, "May reduce P"). Every rank r < n must call
	// Restrict with the same n; a rank at or beyond n must not call it at all -- it is idle
	// for the whole multiply and makes no transport calls.
	Restrict(n int) (Communicator, error)

	// ISend posts a non-blocking send of data to dest, returning immediately with a
	// Request that completes once the send buffer may be reused.
	ISend(ctx context.Context, dest int, data []byte, tag int) (Request, error)
	// IRecv posts a non-blocking receive of len(data) bytes from src into data, returning
	// immediately with a Request that completes once data has been filled.
	IRecv(ctx context.Context, src int, data []byte, tag int) (Request, error)

	// Reduce combines data element-wise across all ranks using op, leaving the result in
	// data on every rank (an allreduce, which is what the multiply engine's parallel-K
	// C-accumulation needs). dt identifies how to interpret the bytes of data as elements.
	Reduce(ctx context.Context, data []byte, dt dtype.DType, op Op) error
	// Bcast broadcasts data from root to every other rank in place.
	Bcast(ctx context.Context, data []byte, root int) error
	// Gather collects each rank's contribution (send) into recv on root, in rank order;
	// recv must be len(send)*Size() bytes on root and may be nil elsewhere.
	Gather(ctx context.Context, send []byte, recv []byte, root int) error
	// Barrier blocks until every rank in the communicator has called Barrier.
	Barrier(ctx context.Context) error
}
