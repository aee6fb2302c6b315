package pgemm

import (
	"github.com/cosma-go/cosma/pkg/core/interval"
	"github.com/cosma-go/cosma/pkg/core/layout"
)

// transposed presents inner's (row, col) coordinate space swapped: inner describes a matrix's
// physical storage, and transposed describes op(that matrix) for a caller whose Trans flag is
// not NoTrans. This lets PGEMM redistribute directly between op(A)'s logical (M, K) space and
// the caller's physically-transposed (K, M) block-cyclic storage without a special case in the
// redistribution walk itself -- the transpose is absorbed once, at the shim boundary, per spec
// section 1's "translation, not computation."
type transposed struct {
	inner layout.LayoutDescriptor
}

func (t transposed) NumProcs() int { return t.inner.NumProcs() }

func (t transposed) OwnedRegions(rank int) []interval.Interval2D {
	regions := t.inner.OwnedRegions(rank)
	out := make([]interval.Interval2D, len(regions))
	for i, r := range regions {
		out[i] = interval.NewInterval2D(r.Cols, r.Rows)
	}
	return out
}

func (t transposed) GlobalToLocal(row, col int) (rank, regionIndex, localOffset int, ok bool) {
	return t.inner.GlobalToLocal(col, row)
}

func (t transposed) LocalToGlobal(rank, regionIndex, localOffset int) (row, col int) {
	r, c := t.inner.LocalToGlobal(rank, regionIndex, localOffset)
	return c, r
}
