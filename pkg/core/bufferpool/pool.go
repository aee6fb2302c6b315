package bufferpool

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/dtype"
	"github.com/cosma-go/cosma/pkg/core/strategy"
)

// Pool is a per-process collection of the three reusable arenas a multiply call needs, sized
// once at compile time and released at the end of the call (spec section 4.4's Lifecycles).
type Pool struct {
	A, B, C *Arena
}

// New sizes and allocates a Pool for one compiled Strategy, replaying strat.LevelSizes over
// problem's dimensions and taking, per matrix, the peak element count across every recursion
// level -- the standard red-blue pebbling recurrence (spec section 4.4). limit is the caller's
// element budget S; zero means unlimited. New re-checks the peak against limit independently
// of whatever check strategy.Compile already performed, since a Pool can be built from a
// user-supplied Strategy that never went through the compiler's own validation.
func New(dt dtype.DType, strat strategy.Strategy, problem strategy.Problem, limit int) (*Pool, error) {
	if !dtype.Valid(dt) {
		return nil, errors.Errorf("bufferpool: invalid dtype %v", dt)
	}
	levels := strat.LevelSizes(problem.M, problem.N, problem.K)
	var peakA, peakB, peakC int
	for _, level := range levels {
		peakA = max(peakA, level.A)
		peakB = max(peakB, level.B)
		peakC = max(peakC, level.C)
	}
	if limit > 0 && peakA+peakB+peakC > limit {
		elementSize := dtype.ElementSize(dt)
		return nil, errors.Errorf(
			"bufferpool: peak per-process footprint %s exceeds budget %s",
			humanize.Bytes(uint64((peakA+peakB+peakC)*elementSize)),
			humanize.Bytes(uint64(limit*elementSize)),
		)
	}
	return &Pool{
		A: newArena(dt, peakA),
		B: newArena(dt, peakB),
		C: newArena(dt, peakC),
	}, nil
}

// Bytes returns the pool's total backing-storage footprint, for logging and diagnostics.
func (p *Pool) Bytes() int {
	elementSize := dtype.ElementSize(p.A.DType())
	return (p.A.Size() + p.B.Size() + p.C.Size()) * elementSize
}
