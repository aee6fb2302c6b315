// Package blockcyclic implements the block-cyclic process-grid distribution used at COSMA's
// p?gemm boundary (spec section 6): the caller describes its matrix as living on a (P, Q)
// process grid in (mb, nb) blocks, ScaLAPACK-style, and Descriptor translates that into the
// same LayoutDescriptor capability the native layout implements, so the shim can hand both to
// a single layout-translation routine without knowing which one it has.
//
// The shim itself performs no algorithmic work (spec section 1): it only translates block
// coordinates, so this package is deliberately just arithmetic, with no dependency on
// strategy, comm, or engine.
package blockcyclic

import (
	"github.com/pkg/errors"

	"github.com/cosma-go/cosma/pkg/core/interval"
)

// Descriptor is a block-cyclic distribution of a rows x cols matrix over a pgrid x qgrid
// process grid, in mb x nb blocks. Processes are numbered row-major over the grid: rank =
// prow*qgrid + pcol.
type Descriptor struct {
	rows, cols   int
	mb, nb       int
	pgrid, qgrid int
}

// New validates and builds a Descriptor.
func New(rows, cols, mb, nb, pgrid, qgrid int) (*Descriptor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("blockcyclic: matrix dimensions must be positive, got rows=%d cols=%d", rows, cols)
	}
	if mb <= 0 || nb <= 0 {
		return nil, errors.Errorf("blockcyclic: block dimensions must be positive, got mb=%d nb=%d", mb, nb)
	}
	if pgrid <= 0 || qgrid <= 0 {
		return nil, errors.Errorf("blockcyclic: process grid dimensions must be positive, got pgrid=%d qgrid=%d", pgrid, qgrid)
	}
	return &Descriptor{rows: rows, cols: cols, mb: mb, nb: nb, pgrid: pgrid, qgrid: qgrid}, nil
}

// NumProcs implements layout.LayoutDescriptor.
func (d *Descriptor) NumProcs() int { return d.pgrid * d.qgrid }

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// numroc mirrors ScaLAPACK's NUMROC: the count of elements of a dim-length axis, split into
// blockSize blocks and dealt round-robin over gridSize processes, that land on process index.
func numroc(dim, blockSize, gridSize, index int) int {
	totalBlocks := ceilDiv(dim, blockSize)
	myBlocks := totalBlocks / gridSize
	if index < totalBlocks%gridSize {
		myBlocks++
	}
	if myBlocks == 0 {
		return 0
	}
	lastBlock := totalBlocks - 1
	lastBlockOwner := lastBlock % gridSize
	lastBlockSize := dim - lastBlock*blockSize
	if index == lastBlockOwner {
		return (myBlocks-1)*blockSize + lastBlockSize
	}
	return myBlocks * blockSize
}

// localRows returns the number of local rows owned by every process in process-row prow.
func (d *Descriptor) localRows(prow int) int { return numroc(d.rows, d.mb, d.pgrid, prow) }

// localCols returns the number of local columns owned by every process in process-column pcol.
func (d *Descriptor) localCols(pcol int) int { return numroc(d.cols, d.nb, d.qgrid, pcol) }

func (d *Descriptor) rankOf(prow, pcol int) int { return prow*d.qgrid + pcol }

func (d *Descriptor) gridOf(rank int) (prow, pcol int) { return rank / d.qgrid, rank % d.qgrid }

// OwnedRegions implements layout.LayoutDescriptor by enumerating rank's scattered global
// blocks in row-major block order; that order is regionIndex's meaning for LocalToGlobal.
func (d *Descriptor) OwnedRegions(rank int) []interval.Interval2D {
	prow, pcol := d.gridOf(rank)
	rowBlocks := d.ownedBlockRanges(d.rows, d.mb, d.pgrid, prow)
	colBlocks := d.ownedBlockRanges(d.cols, d.nb, d.qgrid, pcol)
	regions := make([]interval.Interval2D, 0, len(rowBlocks)*len(colBlocks))
	for _, rowRange := range rowBlocks {
		for _, colRange := range colBlocks {
			regions = append(regions, interval.NewInterval2D(rowRange, colRange))
		}
	}
	return regions
}

// ownedBlockRanges returns, in ascending global order, the [first,last] Interval of every
// blockSize-wide block along a dim-length axis that lands on process index under gridSize-way
// cyclic dealing.
func (d *Descriptor) ownedBlockRanges(dim, blockSize, gridSize, index int) []interval.Interval {
	totalBlocks := ceilDiv(dim, blockSize)
	ranges := make([]interval.Interval, 0, totalBlocks/gridSize+1)
	for block := index; block < totalBlocks; block += gridSize {
		first := block * blockSize
		last := first + blockSize - 1
		if last > dim-1 {
			last = dim - 1
		}
		ranges = append(ranges, interval.Must(first, last))
	}
	return ranges
}

// GlobalToLocal implements layout.LayoutDescriptor. localOffset is column-major within the
// owned block identified by regionIndex, matching OwnedRegions' row-major block ordering.
func (d *Descriptor) GlobalToLocal(row, col int) (rank, regionIndex, localOffset int, ok bool) {
	if row < 0 || row >= d.rows || col < 0 || col >= d.cols {
		return 0, 0, 0, false
	}
	blockRow, blockCol := row/d.mb, col/d.nb
	prow, pcol := blockRow%d.pgrid, blockCol%d.qgrid
	rank = d.rankOf(prow, pcol)

	localBlockRow, localBlockCol := blockRow/d.pgrid, blockCol/d.qgrid
	numColBlocks := len(d.ownedBlockRanges(d.cols, d.nb, d.qgrid, pcol))
	regionIndex = localBlockRow*numColBlocks + localBlockCol

	region := d.OwnedRegions(rank)[regionIndex]
	return rank, regionIndex, region.LocalIndex(row, col), true
}

// LocalToGlobal implements layout.LayoutDescriptor.
func (d *Descriptor) LocalToGlobal(rank, regionIndex, localOffset int) (row, col int) {
	return d.OwnedRegions(rank)[regionIndex].GlobalIndex(localOffset)
}
