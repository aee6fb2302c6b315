// Package layout translates between a caller's description of how matrix elements are
// distributed and COSMA's own recursively-derived ("native") distribution, and computes the
// per-level plan of which matrices split and which broadcast/reduce at each strategy step
// (spec section 4.3).
//
// A LayoutDescriptor is deliberately a small interface rather than a class hierarchy (spec
// section 9, "Layout descriptor as capability"): it is a pair of pure mapping functions plus
// an enumeration of owned regions, which admits both the native layout and an arbitrary
// caller-supplied one (block-cyclic, say) without virtual dispatch on any hot path.
package layout

import (
	"github.com/cosma-go/cosma/pkg/core/interval"
)

// LayoutDescriptor maps between a matrix's global (row, col) index space and a rank's local
// storage offset within its owned region(s).
type LayoutDescriptor interface {
	// NumProcs returns the number of ranks the descriptor spreads the matrix over.
	NumProcs() int
	// OwnedRegions returns the (possibly empty, for an idle rank) list of 2-D regions rank
	// owns. The native layout always returns exactly one; a general descriptor may return
	// several (e.g. a block-cyclic grid, where one rank owns many scattered blocks).
	OwnedRegions(rank int) []interval.Interval2D
	// GlobalToLocal maps a global element to its owning rank, which of that rank's owned
	// regions (see OwnedRegions) contains it, and its column-major local offset within that
	// region. ok is false if no rank owns (row, col).
	GlobalToLocal(row, col int) (rank, regionIndex, localOffset int, ok bool)
	// LocalToGlobal is the inverse of GlobalToLocal.
	LocalToGlobal(rank, regionIndex, localOffset int) (row, col int)
}
