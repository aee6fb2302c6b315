// Package bufferpool pre-sizes and owns the reusable working buffers for A, B and C at every
// recursion level of a compiled Strategy (spec section 4.4). pkg/pgemm allocates one Pool per
// call and takes one View per matrix from it; the multiply engine itself does not allocate
// from a Pool. The sizing is the red-blue pebbling recurrence over Strategy.LevelSizes, so an Arena is always
// large enough for the biggest sub-block that level of the recursion ever produces, and never
// larger.
package bufferpool

import (
	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/dtype"
)

// Arena is a single contiguous backing array for one matrix (A, B or C), typed to dt. Sub-
// views into it are obtained with View and are only valid until the next call that resizes or
// reuses the arena's backing storage.
type Arena struct {
	dt      dtype.DType
	backing any // []float32, []float64, []complex64 or []complex128, chosen by dt.
	size    int
}

// newArena allocates a fresh Arena of the given dtype and element capacity. Mirrors the
// teacher's tensors.FromShape allocation-by-reflection, specialized to COSMA's closed dtype
// set: the backing slice's concrete Go type is picked once via dtype.Dispatch instead of
// reflect.MakeSlice, since there are exactly four possibilities to choose from.
func newArena(dt dtype.DType, size int) *Arena {
	backing := dtype.Dispatch(dt,
		func() any { return make([]float32, size) },
		func() any { return make([]float64, size) },
		func() any { return make([]complex64, size) },
		func() any { return make([]complex128, size) },
	)
	return &Arena{dt: dt, backing: backing, size: size}
}

// DType returns the arena's element type.
func (a *Arena) DType() dtype.DType { return a.dt }

// Size returns the arena's element capacity.
func (a *Arena) Size() int { return a.size }

// View returns the [offset, offset+length) sub-slice of a's backing storage, typed as T. T
// must match the arena's own dtype (dtype.Of[T]() == a.DType()); otherwise, or if the range is
// out of bounds, View returns an error rather than panicking, since the caller is usually
// reacting to a Strategy/LevelPlan computed elsewhere in the same call.
func View[T dtype.Supported](a *Arena, offset, length int) ([]T, error) {
	if dtype.Of[T]() != a.dt {
		return nil, errors.Errorf("bufferpool: view type %T does not match arena dtype %v", *new(T), a.dt)
	}
	typed := a.backing.([]T)
	if offset < 0 || length < 0 || offset+length > len(typed) {
		return nil, errors.Errorf("bufferpool: view [%d, %d) out of bounds for arena of size %d", offset, offset+length, len(typed))
	}
	return typed[offset : offset+length], nil
}

// Zero clears the arena's entire backing storage, without reallocating it.
func (a *Arena) Zero() {
	dtype.Dispatch[struct{}](a.dt,
		func() struct{} { zeroSlice(a.backing.([]float32)); return struct{}{} },
		func() struct{} { zeroSlice(a.backing.([]float64)); return struct{}{} },
		func() struct{} { zeroSlice(a.backing.([]complex64)); return struct{}{} },
		func() struct{} { zeroSlice(a.backing.([]complex128)); return struct{}{} },
	)
}

func zeroSlice[T dtype.Supported](s []T) {
	var zero T
	for i := range s {
		s[i] = zero
	}
}
