package layout

import (
	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/interval"
)

// NativeLayout is COSMA's own distribution: exactly one Interval2D region per rank,
// column-major within that region (spec section 6). An idle rank (one the strategy compiler
// marked unused) owns a zero-size region and is skipped by GlobalToLocal/OwnedRegions.
type NativeLayout struct {
	rows, cols interval.Interval
	regions    []interval.Interval2D
	idle       []bool
}

// NewNativeLayout builds a NativeLayout from an explicit per-rank region assignment. idle may
// be nil (no idle ranks); otherwise it must have the same length as regions.
func NewNativeLayout(rows, cols interval.Interval, regions []interval.Interval2D, idle []bool) (*NativeLayout, error) {
	if idle != nil && len(idle) != len(regions) {
		return nil, errors.Errorf("layout: idle mask length %d does not match regions length %d", len(idle), len(regions))
	}
	if idle == nil {
		idle = make([]bool, len(regions))
	}
	for r, region := range regions {
		if idle[r] {
			continue
		}
		if !rows.ContainsInterval(region.Rows) || !cols.ContainsInterval(region.Cols) {
			return nil, errors.Errorf("layout: rank %d region %v is not within [%v, %v]", r, region, rows, cols)
		}
	}
	return &NativeLayout{rows: rows, cols: cols, regions: append([]interval.Interval2D(nil), regions...), idle: idle}, nil
}

// NumProcs implements LayoutDescriptor.
func (l *NativeLayout) NumProcs() int { return len(l.regions) }

// OwnedRegions implements LayoutDescriptor.
func (l *NativeLayout) OwnedRegions(rank int) []interval.Interval2D {
	if rank < 0 || rank >= len(l.regions) || l.idle[rank] {
		return nil
	}
	return []interval.Interval2D{l.regions[rank]}
}

// GlobalToLocal implements LayoutDescriptor by a linear scan of ranks. NativeLayout is used
// for small process counts and diagnostics, not the hot path of a running multiply. regionIndex
// is always 0: NativeLayout gives each rank exactly one region.
func (l *NativeLayout) GlobalToLocal(row, col int) (rank, regionIndex, localOffset int, ok bool) {
	for r, region := range l.regions {
		if l.idle[r] {
			continue
		}
		if region.Contains(row, col) {
			return r, 0, region.LocalIndex(row, col), true
		}
	}
	return 0, 0, 0, false
}

// LocalToGlobal implements LayoutDescriptor. regionIndex must be 0 (NativeLayout has exactly
// one region per rank).
func (l *NativeLayout) LocalToGlobal(rank, regionIndex, localOffset int) (row, col int) {
	if regionIndex != 0 {
		panic("layout: NativeLayout rank owns exactly one region, regionIndex must be 0")
	}
	return l.regions[rank].GlobalIndex(localOffset)
}

// Region returns rank's owned region directly, without the OwnedRegions wrapping slice; it
// panics if rank is idle.
func (l *NativeLayout) Region(rank int) interval.Interval2D {
	if l.idle[rank] {
		panic("layout: rank is idle, has no owned region")
	}
	return l.regions[rank]
}

// IsIdle reports whether rank was marked idle by the strategy compiler.
func (l *NativeLayout) IsIdle(rank int) bool {
	return l.idle[rank]
}
