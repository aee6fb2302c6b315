// Package interval implements the integer interval algebra COSMA's strategy compiler, layout
// mapper and multiply engine all build on: half-open-free closed ranges, their exact splitting
// into nearly-equal contiguous pieces with deterministic tie-breaking, and their 2-D products.
//
// The splitting arithmetic is a contract other packages rely on bit-for-bit (spec section 3):
// changing it changes which rank owns which matrix element at every recursion level.
package interval

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/internal/exceptions"
)

// Interval is a nonempty closed range [First, Last] of nonnegative integers.
type Interval struct {
	first, last int
}

// New constructs an Interval, returning an error if first or last is negative or first > last.
func New(first, last int) (Interval, error) {
	if first < 0 || last < 0 {
		return Interval{}, errors.Errorf("interval: bounds must be non-negative, got [%d, %d]", first, last)
	}
	if first > last {
		return Interval{}, errors.Errorf("interval: first must be <= last, got [%d, %d]", first, last)
	}
	return Interval{first, last}, nil
}

// Must constructs an Interval like New, panicking (a programmer-error condition per spec
// section 4.1) instead of returning an error.
func Must(first, last int) Interval {
	iv, err := New(first, last)
	if err != nil {
		exceptions.Panicf("%v", err)
	}
	return iv
}

// First returns the first (lowest) element of the interval.
func (iv Interval) First() int { return iv.first }

// Last returns the last (highest) element of the interval.
func (iv Interval) Last() int { return iv.last }

// Length returns the number of integers in the interval.
func (iv Interval) Length() int { return iv.last - iv.first + 1 }

// Contains returns whether x lies within the interval.
func (iv Interval) Contains(x int) bool {
	return x >= iv.first && x <= iv.last
}

// ContainsInterval returns whether other is entirely contained within iv.
func (iv Interval) ContainsInterval(other Interval) bool {
	return iv.first <= other.first && iv.last >= other.last
}

// Precedes returns whether iv ends strictly before other begins.
func (iv Interval) Precedes(other Interval) bool {
	return iv.last < other.first
}

// Equal returns whether iv and other describe the same range.
func (iv Interval) Equal(other Interval) bool {
	return iv.first == other.first && iv.last == other.last
}

// String implements fmt.Stringer.
func (iv Interval) String() string {
	return fmt.Sprintf("[%d, %d]", iv.first, iv.last)
}

// Subinterval returns the boxIndex-th of divisor contiguous sub-intervals of iv, using the
// tie-breaking rule that is the determinism anchor of this module: sub-interval i spans
// [floor(L*i/d), floor(L*(i+1)/d) - 1] relative to iv.first, so that when L is not divisible by
// d, sub-interval lengths differ by at most one and the formula alone decides which ones are
// longer (L=10, d=4 gives lengths 2, 3, 2, 3).
//
// If iv.Length() < divisor, iv itself is returned regardless of boxIndex (there aren't enough
// elements to split further); this mirrors the C++ original's behavior of returning the whole
// interval unsplit rather than producing empty sub-intervals.
func (iv Interval) Subinterval(divisor, boxIndex int) Interval {
	if divisor < 1 {
		exceptions.Panicf("interval: Subinterval divisor must be >= 1, got %d", divisor)
	}
	if boxIndex < 0 || boxIndex >= divisor {
		exceptions.Panicf("interval: Subinterval boxIndex %d out of range [0, %d)", boxIndex, divisor)
	}
	length := iv.Length()
	if length < divisor {
		return iv
	}
	start := length * boxIndex / divisor
	end := length*(boxIndex+1)/divisor - 1
	return Interval{iv.first + start, iv.first + end}
}

// DivideBy splits iv into divisor contiguous sub-intervals via repeated Subinterval calls.
// The union of the result is iv, and the pieces are pairwise disjoint and ordered.
func (iv Interval) DivideBy(divisor int) []Interval {
	if iv.Length() < divisor {
		return []Interval{iv}
	}
	out := make([]Interval, divisor)
	for i := 0; i < divisor; i++ {
		out[i] = iv.Subinterval(divisor, i)
	}
	return out
}

// LocateInSubinterval returns the (subIndex, offset) pair such that x lies at local offset
// `offset` within the subIndex-th of divisor sub-intervals of iv.
func (iv Interval) LocateInSubinterval(divisor, x int) (subIndex, offset int) {
	if !iv.Contains(x) {
		exceptions.Panicf("interval: LocateInSubinterval: %d not in %v", x, iv)
	}
	length := iv.Length()
	relative := x - iv.first
	if length < divisor {
		return 0, relative
	}
	subIndex = ((relative+1)*divisor - 1) / length
	offset = relative - length*subIndex/divisor
	return subIndex, offset
}

// LocateInInterval is the inverse of LocateInSubinterval: given a sub-interval index and a
// local offset within it, it returns the corresponding global element of iv. It satisfies
// LocateInInterval(d, LocateInSubinterval(d, x)) == x for every x in iv and every d <= iv.Length().
func (iv Interval) LocateInInterval(divisor, subIndex, offset int) int {
	return iv.first + iv.Length()*subIndex/divisor + offset
}

// SubintervalContaining returns the sub-interval (of divisor total) that contains x.
func (iv Interval) SubintervalContaining(divisor, x int) Interval {
	subIndex, _ := iv.LocateInSubinterval(divisor, x)
	return iv.Subinterval(divisor, subIndex)
}

// LargestSubintervalLength returns the length of the largest of divisor sub-intervals of iv.
func (iv Interval) LargestSubintervalLength(divisor int) int {
	length := iv.Length()
	extra := 0
	if length%divisor != 0 {
		extra = 1
	}
	return length/divisor + extra
}

// SmallestSubintervalLength returns the length of the smallest of divisor sub-intervals of iv.
func (iv Interval) SmallestSubintervalLength(divisor int) int {
	return iv.Length() / divisor
}
